package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tis24dev/backupguard/internal/logging"
)

// SSHOption customises an SSHExecutor.
type SSHOption func(*SSHExecutor)

// WithPassphrase supplies the passphrase for an encrypted private key. The
// callback is invoked at most once and the slice it returns is wiped after
// use.
func WithPassphrase(fn func() ([]byte, error)) SSHOption {
	return func(e *SSHExecutor) { e.passphrase = fn }
}

// WithDialer replaces the TCP dialer, mainly for tests.
func WithDialer(dial func(ctx context.Context, network, addr string) (net.Conn, error)) SSHOption {
	return func(e *SSHExecutor) { e.dial = dial }
}

// SSHExecutor runs commands with the built-in SSH client. A fresh connection
// is dialled for every command.
type SSHExecutor struct {
	cfg        Config
	logger     *logging.Logger
	dial       func(ctx context.Context, network, addr string) (net.Conn, error)
	passphrase func() ([]byte, error)

	authOnce sync.Once
	auth     *ssh.ClientConfig
	authErr  error
}

// NewSSHExecutor validates cfg and returns an executor. The private key is
// loaded lazily on the first command.
func NewSSHExecutor(cfg Config, logger *logging.Logger, opts ...SSHOption) (*SSHExecutor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid remote configuration: %w", err)
	}
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}
	d := &net.Dialer{}
	e := &SSHExecutor{
		cfg:    cfg,
		logger: logger,
		dial:   d.DialContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes command and waits for it to exit or for the timeout to elapse.
func (e *SSHExecutor) Run(ctx context.Context, command string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	clientConfig, err := e.clientConfig()
	if err != nil {
		return nil, &ConnectionError{Kind: ConnectionAuth, Host: e.cfg.Host, Err: err}
	}

	client, err := e.connect(ctx, clientConfig)
	if err != nil {
		return nil, classifyChannelError(ctx, e.cfg.Host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, classifyChannelError(ctx, e.cfg.Host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		_ = client.Close()
		kind := ConnectionTimeout
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = ConnectionNetwork
		}
		e.logger.Debug("Remote command aborted after %s: %v", e.cfg.Timeout, ctx.Err())
		return nil, &ConnectionError{Kind: kind, Host: e.cfg.Host, Err: ctx.Err()}
	case runErr := <-done:
		res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if runErr == nil {
			return res, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &CommandError{Command: command, ExitStatus: exitErr.ExitStatus(), Stderr: res.Stderr}
		}
		var missing *ssh.ExitMissingError
		if errors.As(runErr, &missing) {
			return nil, &ConnectionError{Kind: ConnectionNetwork, Host: e.cfg.Host, Err: runErr}
		}
		return nil, classifyChannelError(ctx, e.cfg.Host, runErr)
	}
}

func (e *SSHExecutor) connect(ctx context.Context, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	addr := e.cfg.Address()
	conn, err := e.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	// The handshake does not observe ctx, so bound it with a deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	e.authOnce.Do(func() {
		signer, err := e.loadSigner()
		if err != nil {
			e.authErr = err
			return
		}
		hostKeys, err := e.hostKeyCallback()
		if err != nil {
			e.authErr = err
			return
		}
		e.auth = &ssh.ClientConfig{
			User:            e.cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeys,
			Timeout:         e.cfg.Timeout,
		}
	})
	return e.auth, e.authErr
}

func (e *SSHExecutor) loadSigner() (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(e.cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", e.cfg.KeyPath, err)
	}
	defer memguard.WipeBytes(pemBytes)
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parse private key %s: %w", e.cfg.KeyPath, err)
	}
	if e.passphrase == nil {
		return nil, fmt.Errorf("private key %s is encrypted and no passphrase is available", e.cfg.KeyPath)
	}
	pass, err := e.passphrase()
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	// NewBufferFromBytes moves pass into locked memory and zeroes the original.
	locked := memguard.NewBufferFromBytes(pass)
	defer locked.Destroy()
	signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, locked.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decrypt private key %s: %w", e.cfg.KeyPath, err)
	}
	return signer, nil
}

func (e *SSHExecutor) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if e.cfg.KnownHostsPath == "" {
		e.logger.Warning("REMOTE_KNOWN_HOSTS not set: host key of %s will not be verified", e.cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(e.cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", e.cfg.KnownHostsPath, err)
	}
	return cb, nil
}
