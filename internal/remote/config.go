// Package remote runs single shell commands on a remote host over SSH.
// Every call is one-shot: a connection is opened, one command runs, and the
// connection is closed again. There is no retry.
package remote

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the SSH port used when none is configured.
	DefaultPort = 22

	// DefaultTimeout bounds each remote command, connection setup included.
	DefaultTimeout = 30 * time.Second

	// TransportNative uses the built-in SSH client.
	TransportNative = "native"

	// TransportOpenSSH shells out to the system ssh binary.
	TransportOpenSSH = "openssh"
)

// Config describes how to reach the remote host.
type Config struct {
	Host           string
	User           string
	KeyPath        string
	Port           int
	Timeout        time.Duration
	KnownHostsPath string
	Transport      string
	// CommandsPerSecond paces remote commands; zero means unlimited.
	CommandsPerSecond float64
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	if c.Transport == "" {
		c.Transport = TransportNative
	}
	return c
}

// Address returns host:port.
func (c Config) Address() string {
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Target returns user@host for log messages and the ssh binary.
func (c Config) Target() string {
	if c.User == "" {
		return c.Host
	}
	return c.User + "@" + c.Host
}

// Validate reports every missing or invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("remote host is required"))
	}
	if strings.TrimSpace(c.User) == "" {
		errs = append(errs, errors.New("remote user is required"))
	}
	if strings.TrimSpace(c.KeyPath) == "" {
		errs = append(errs, errors.New("remote key path is required"))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("remote port %d out of range", c.Port))
	}
	switch strings.ToLower(strings.TrimSpace(c.Transport)) {
	case "", TransportNative, TransportOpenSSH:
	default:
		errs = append(errs, fmt.Errorf("unknown remote transport %q", c.Transport))
	}
	if c.CommandsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("remote rate limit must not be negative, got %g", c.CommandsPerSecond))
	}
	return errors.Join(errs...)
}
