package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/tis24dev/backupguard/internal/logging"
)

type execReply struct {
	stdout string
	stderr string
	status uint32
}

type testServer struct {
	host    string
	port    int
	hostKey ssh.Signer
	keyPath string
	client  ed25519.PrivateKey
}

func startTestServer(t *testing.T, handler func(cmd string) execReply) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	authorized, err := ssh.NewPublicKey(clientPub)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go serveTestConn(nc, cfg, handler)
		}
	}()

	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	tcp := ln.Addr().(*net.TCPAddr)
	return &testServer{
		host:    "127.0.0.1",
		port:    tcp.Port,
		hostKey: hostSigner,
		keyPath: keyPath,
		client:  clientPriv,
	}
}

func serveTestConn(nc net.Conn, cfg *ssh.ServerConfig, handler func(string) execReply) {
	_, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
					_ = req.Reply(false, nil)
					return
				}
				_ = req.Reply(true, nil)
				reply := handler(payload.Command)
				_, _ = io.WriteString(ch, reply.stdout)
				_, _ = io.WriteString(ch.Stderr(), reply.stderr)
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{reply.status}))
				return
			}
		}()
	}
}

func (s *testServer) config() Config {
	return Config{
		Host:    s.host,
		User:    "backup",
		KeyPath: s.keyPath,
		Port:    s.port,
		Timeout: 5 * time.Second,
	}
}

func TestSSHExecutorRunReturnsOutput(t *testing.T) {
	var got string
	srv := startTestServer(t, func(cmd string) execReply {
		got = cmd
		return execReply{stdout: "hello\n"}
	})

	exec, err := NewSSHExecutor(srv.config(), logging.Discard())
	require.NoError(t, err)

	res, err := exec.Run(context.Background(), "echo "+Quote("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "echo 'hello'", got)
}

func TestSSHExecutorRunNonZeroExit(t *testing.T) {
	srv := startTestServer(t, func(string) execReply {
		return execReply{stderr: "no such file", status: 2}
	})

	exec, err := NewSSHExecutor(srv.config(), logging.Discard())
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "cat '/missing'")
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr), "err = %v", err)
	assert.Equal(t, 2, cmdErr.ExitStatus)
	assert.Contains(t, cmdErr.Stderr, "no such file")
	assert.False(t, IsConnectionError(err))
}

func TestSSHExecutorTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	srv := startTestServer(t, func(string) execReply {
		<-release
		return execReply{}
	})

	cfg := srv.config()
	cfg.Timeout = 150 * time.Millisecond
	exec, err := NewSSHExecutor(cfg, logging.Discard())
	require.NoError(t, err)

	start := time.Now()
	_, err = exec.Run(context.Background(), "sleep 60")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "err = %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSSHExecutorAuthFailure(t *testing.T) {
	srv := startTestServer(t, func(string) execReply { return execReply{} })

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(otherPriv, "")
	require.NoError(t, err)
	otherPath := filepath.Join(t.TempDir(), "other")
	require.NoError(t, os.WriteFile(otherPath, pem.EncodeToMemory(block), 0o600))

	cfg := srv.config()
	cfg.KeyPath = otherPath
	exec, err := NewSSHExecutor(cfg, logging.Discard())
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "true")
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "err = %v", err)
	assert.Equal(t, ConnectionAuth, connErr.Kind)
}

func TestSSHExecutorNetworkFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	keyPath := filepath.Join(t.TempDir(), "id")
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600))

	exec, err := NewSSHExecutor(Config{
		Host: "127.0.0.1", User: "backup", KeyPath: keyPath, Port: port, Timeout: 2 * time.Second,
	}, logging.Discard())
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), "true")
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "err = %v", err)
	assert.Equal(t, ConnectionNetwork, connErr.Kind)
}

func TestSSHExecutorKnownHosts(t *testing.T) {
	srv := startTestServer(t, func(string) execReply { return execReply{stdout: "ok"} })
	addr := net.JoinHostPort(srv.host, strconv.Itoa(srv.port))

	good := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{knownhosts.Normalize(addr)}, srv.hostKey.PublicKey())
	require.NoError(t, os.WriteFile(good, []byte(line+"\n"), 0o600))

	cfg := srv.config()
	cfg.KnownHostsPath = good
	exec, err := NewSSHExecutor(cfg, logging.Discard())
	require.NoError(t, err)
	res, err := exec.Run(context.Background(), "true")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Stdout)

	_, otherHost, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherSigner, err := ssh.NewSignerFromKey(otherHost)
	require.NoError(t, err)
	bad := filepath.Join(t.TempDir(), "known_hosts_bad")
	badLine := knownhosts.Line([]string{knownhosts.Normalize(addr)}, otherSigner.PublicKey())
	require.NoError(t, os.WriteFile(bad, []byte(badLine+"\n"), 0o600))

	cfg.KnownHostsPath = bad
	exec, err = NewSSHExecutor(cfg, logging.Discard())
	require.NoError(t, err)
	_, err = exec.Run(context.Background(), "true")
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr), "err = %v", err)
	assert.Equal(t, ConnectionAuth, connErr.Kind)
}

func TestSSHExecutorEncryptedKeyUsesPassphrase(t *testing.T) {
	srv := startTestServer(t, func(string) execReply { return execReply{stdout: "ok"} })

	block, err := ssh.MarshalPrivateKeyWithPassphrase(srv.client, "", []byte("s3cret"))
	require.NoError(t, err)
	encPath := filepath.Join(t.TempDir(), "id_enc")
	require.NoError(t, os.WriteFile(encPath, pem.EncodeToMemory(block), 0o600))

	cfg := srv.config()
	cfg.KeyPath = encPath

	calls := 0
	var given []byte
	exec, err := NewSSHExecutor(cfg, logging.Discard(), WithPassphrase(func() ([]byte, error) {
		calls++
		given = []byte("s3cret")
		return given, nil
	}))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = exec.Run(context.Background(), "true")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, make([]byte, 6), given, "passphrase is wiped after use")

	noPass, err := NewSSHExecutor(cfg, logging.Discard())
	require.NoError(t, err)
	_, err = noPass.Run(context.Background(), "true")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "encrypted"), "err = %v", err)
}

func TestNewSSHExecutorRejectsInvalidConfig(t *testing.T) {
	_, err := NewSSHExecutor(Config{}, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote host is required")
}
