// Package secrets encrypts and decrypts stored server credentials.
//
// A credential is fernet-encrypted under a key derived from the user's
// master password and a per-server random salt. The master password is
// never stored; without it the ciphertext is useless, which is the whole
// point of a master password.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

// kdfIterations is the PBKDF2 iteration count for master-key derivation.
const kdfIterations = 200_000

const saltSize = 16

// NewSalt returns a fresh random salt, base64-encoded for storage.
func NewSalt() (string, error) {
	b := make([]byte, saltSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func deriveKey(masterPassword, salt string) (*fernet.Key, error) {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(masterPassword), rawSalt, kdfIterations, 32, sha256.New)
	var key fernet.Key
	copy(key[:], derived)
	return &key, nil
}

// Encrypt encrypts a plaintext secret under the master password and salt,
// returning a fernet token.
func Encrypt(plaintext, masterPassword, salt string) (string, error) {
	key, err := deriveKey(masterPassword, salt)
	if err != nil {
		return "", err
	}
	tok, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypt secret: %w", err)
	}
	return string(tok), nil
}

// Decrypt decrypts a stored fernet token with the master password and
// salt. A wrong master password yields an error indistinguishable from a
// corrupt token; fernet authenticates before decrypting.
func Decrypt(token, masterPassword, salt string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("decrypt secret: empty token")
	}
	key, err := deriveKey(masterPassword, salt)
	if err != nil {
		return "", err
	}
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{key})
	if msg == nil {
		return "", fmt.Errorf("decrypt secret: invalid token or wrong master password")
	}
	return string(msg), nil
}

// Mask returns a redacted form of a secret for logs and API responses.
func Mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 4 {
		return "****" + value[len(value)-4:]
	}
	return "****"
}
