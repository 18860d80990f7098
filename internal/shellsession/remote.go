package shellsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/shellpilot/internal/database"
	"github.com/gluk-w/shellpilot/internal/secrets"
)

// Terminal size bounds. Requests outside these are clamped, not rejected,
// so a misbehaving client cannot wedge the PTY.
const (
	MinCols = 10
	MaxCols = 400
	MinRows = 5
	MaxRows = 200
)

const (
	dialTimeout  = 10 * time.Second
	closeTimeout = 5 * time.Second
)

// ClampSize brings terminal dimensions into the supported range.
func ClampSize(cols, rows int) (int, int) {
	if cols < MinCols {
		cols = MinCols
	}
	if cols > MaxCols {
		cols = MaxCols
	}
	if rows < MinRows {
		rows = MinRows
	}
	if rows > MaxRows {
		rows = MaxRows
	}
	return cols, rows
}

// ConnectParams carries the per-connection inputs the client supplies
// alongside the stored server record.
type ConnectParams struct {
	// MasterPassword decrypts the server's stored secret.
	MasterPassword string
	// Password is the fallback plaintext secret, or the key passphrase
	// for the key_passphrase auth method.
	Password string
	Cols     int
	Rows     int
	TermType string
}

// RemoteProcess is a running shell on a remote host. The SSH-backed
// implementation is the production one; tests use in-memory pipes.
type RemoteProcess interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	Resize(cols, rows int) error
	// Wait blocks until the shell exits. status is nil when the process
	// was terminated by a signal or the status is unknown.
	Wait() (status *int, signal string, err error)
	Close() error
}

// Dialer opens a RemoteProcess for a server. Extracted so session tests
// never need a real SSH endpoint.
type Dialer interface {
	Dial(ctx context.Context, srv *database.Server, params ConnectParams) (RemoteProcess, error)
}

// SSHDialer is the production Dialer. It resolves the auth secret,
// optionally hops through a bastion, and starts a PTY-backed shell.
type SSHDialer struct{}

func (SSHDialer) Dial(ctx context.Context, srv *database.Server, params ConnectParams) (RemoteProcess, error) {
	secret := resolveSecret(srv, params)
	auth, err := authMethod(srv.AuthMethod, secret, params.Password)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            srv.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	var bastion *ssh.Client
	var client *ssh.Client
	addr := net.JoinHostPort(srv.Host, fmt.Sprintf("%d", srv.Port))

	if srv.BastionHost != "" {
		bastion, client, err = dialViaBastion(srv, cfg, addr)
	} else {
		client, err = ssh.Dial("tcp", addr, cfg)
	}
	if err != nil {
		return nil, err
	}

	proc, err := startShell(client, bastion, srv, params)
	if err != nil {
		client.Close()
		if bastion != nil {
			bastion.Close()
		}
		return nil, err
	}
	return proc, nil
}

// resolveSecret decrypts the stored secret with the master password. Any
// failure (wrong password, legacy plaintext record, no stored secret)
// falls back to the client-supplied plaintext.
func resolveSecret(srv *database.Server, params ConnectParams) string {
	if srv.EncryptedSecret != "" && params.MasterPassword != "" {
		plain, err := secrets.Decrypt(srv.EncryptedSecret, params.MasterPassword, srv.SecretSalt)
		if err == nil {
			return plain
		}
		log.Printf("[shell] decrypt secret for server %d failed, using supplied secret: %v", srv.ID, err)
	}
	if params.Password != "" {
		return params.Password
	}
	// Pre-encryption records stored the secret as-is.
	return srv.EncryptedSecret
}

func authMethod(method, secret, passphrase string) (ssh.AuthMethod, error) {
	switch method {
	case database.AuthMethodPassword, "":
		return ssh.Password(secret), nil
	case database.AuthMethodKey:
		signer, err := ssh.ParsePrivateKey([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	case database.AuthMethodKeyPassphrase:
		signer, err := ssh.ParsePrivateKeyWithPassphrase([]byte(secret), []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key with passphrase: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unsupported auth method %q", method)
	}
}

// dialViaBastion connects to the bastion first, then tunnels a TCP
// connection through it to the target and runs the SSH handshake over
// that. The bastion reuses the target's credentials unless the record
// names a different bastion user.
func dialViaBastion(srv *database.Server, cfg *ssh.ClientConfig, targetAddr string) (*ssh.Client, *ssh.Client, error) {
	bastionCfg := &ssh.ClientConfig{
		User:            srv.BastionUser,
		Auth:            cfg.Auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}
	if bastionCfg.User == "" {
		bastionCfg.User = srv.Username
	}
	port := srv.BastionPort
	if port == 0 {
		port = 22
	}

	bastionAddr := net.JoinHostPort(srv.BastionHost, fmt.Sprintf("%d", port))
	bastion, err := ssh.Dial("tcp", bastionAddr, bastionCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dial bastion %s: %w", bastionAddr, err)
	}

	conn, err := bastion.Dial("tcp", targetAddr)
	if err != nil {
		bastion.Close()
		return nil, nil, fmt.Errorf("dial %s via bastion: %w", targetAddr, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, targetAddr, cfg)
	if err != nil {
		conn.Close()
		bastion.Close()
		return nil, nil, fmt.Errorf("ssh handshake with %s: %w", targetAddr, err)
	}
	return bastion, ssh.NewClient(c, chans, reqs), nil
}

func startShell(client, bastion *ssh.Client, srv *database.Server, params ConnectParams) (*sshProcess, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	applyEnvironment(session, srv)

	termType := params.TermType
	if termType == "" {
		termType = "xterm-256color"
	}
	cols, rows := ClampSize(params.Cols, params.Rows)

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(termType, rows, cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &sshProcess{
		client:  client,
		bastion: bastion,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
	}, nil
}

// applyEnvironment pushes the server's configured environment variables.
// Most sshd installs restrict AcceptEnv, so failures are logged once and
// otherwise ignored.
func applyEnvironment(session *ssh.Session, srv *database.Server) {
	if srv.Environment == "" {
		return
	}
	var env map[string]string
	if err := json.Unmarshal([]byte(srv.Environment), &env); err != nil {
		log.Printf("[shell] server %d environment is not valid JSON: %v", srv.ID, err)
		return
	}
	for k, v := range env {
		if err := session.Setenv(k, v); err != nil {
			log.Printf("[shell] setenv %s rejected by server %d: %v", k, srv.ID, err)
			return
		}
	}
}

type sshProcess struct {
	client  *ssh.Client
	bastion *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader
}

func (p *sshProcess) Stdin() io.Writer  { return p.stdin }
func (p *sshProcess) Stdout() io.Reader { return p.stdout }
func (p *sshProcess) Stderr() io.Reader { return p.stderr }

func (p *sshProcess) Resize(cols, rows int) error {
	cols, rows = ClampSize(cols, rows)
	return p.session.WindowChange(rows, cols)
}

func (p *sshProcess) Wait() (*int, string, error) {
	err := p.session.Wait()
	if err == nil {
		zero := 0
		return &zero, "", nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		if sig := exitErr.Signal(); sig != "" {
			return nil, sig, nil
		}
		code := exitErr.ExitStatus()
		return &code, "", nil
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return nil, "", nil
	}
	return nil, "", err
}

// Close tears down the session and both SSH clients, bounding the whole
// thing so a dead TCP peer cannot hang teardown.
func (p *sshProcess) Close() error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.session.Close()
		p.client.Close()
		if p.bastion != nil {
			p.bastion.Close()
		}
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		log.Printf("[shell] remote close timed out after %s", closeTimeout)
	}
	return nil
}
