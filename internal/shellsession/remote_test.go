package shellsession

import (
	"testing"

	"github.com/gluk-w/shellpilot/internal/database"
	"github.com/gluk-w/shellpilot/internal/secrets"
)

func TestClampSize(t *testing.T) {
	cases := []struct {
		cols, rows         int
		wantCols, wantRows int
	}{
		{80, 24, 80, 24},
		{0, 0, MinCols, MinRows},
		{-5, 3, MinCols, MinRows},
		{9999, 9999, MaxCols, MaxRows},
	}
	for _, tc := range cases {
		c, r := ClampSize(tc.cols, tc.rows)
		if c != tc.wantCols || r != tc.wantRows {
			t.Errorf("ClampSize(%d, %d) = (%d, %d), want (%d, %d)", tc.cols, tc.rows, c, r, tc.wantCols, tc.wantRows)
		}
	}
}

func TestResolveSecretDecryptsWithMasterPassword(t *testing.T) {
	salt, err := secrets.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	token, err := secrets.Encrypt("hunter2", "master-pw", salt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	srv := &database.Server{ID: 1, EncryptedSecret: token, SecretSalt: salt}

	got := resolveSecret(srv, ConnectParams{MasterPassword: "master-pw"})
	if got != "hunter2" {
		t.Errorf("resolved = %q, want decrypted secret", got)
	}
}

func TestResolveSecretFallsBackOnBadMasterPassword(t *testing.T) {
	salt, err := secrets.NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	token, err := secrets.Encrypt("hunter2", "master-pw", salt)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	srv := &database.Server{ID: 1, EncryptedSecret: token, SecretSalt: salt}

	got := resolveSecret(srv, ConnectParams{MasterPassword: "wrong", Password: "typed-in"})
	if got != "typed-in" {
		t.Errorf("resolved = %q, want supplied plaintext", got)
	}
}

func TestResolveSecretLegacyPlaintextRecord(t *testing.T) {
	// Records created before encryption hold the secret as-is with no salt.
	srv := &database.Server{ID: 1, EncryptedSecret: "plain-old-password"}
	if got := resolveSecret(srv, ConnectParams{}); got != "plain-old-password" {
		t.Errorf("resolved = %q", got)
	}
}

func TestAuthMethodUnsupported(t *testing.T) {
	if _, err := authMethod("kerberos", "x", ""); err == nil {
		t.Error("expected error for unsupported auth method")
	}
}

func TestAuthMethodPasswordDefault(t *testing.T) {
	if _, err := authMethod("", "secret", ""); err != nil {
		t.Errorf("empty auth method should default to password: %v", err)
	}
	if _, err := authMethod(database.AuthMethodPassword, "secret", ""); err != nil {
		t.Errorf("password auth: %v", err)
	}
}

func TestAuthMethodBadKeyRejected(t *testing.T) {
	if _, err := authMethod(database.AuthMethodKey, "not a pem key", ""); err == nil {
		t.Error("expected error for unparseable private key")
	}
}
