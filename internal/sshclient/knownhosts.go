package sshclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultKnownHostsFile is ~/.ssh/known_hosts.
func DefaultKnownHostsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

func ensureFile(file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

func knownHostsCallback(file string) (ssh.HostKeyCallback, error) {
	if file == "" {
		file = DefaultKnownHostsFile()
	}
	if err := ensureFile(file); err != nil {
		return nil, fmt.Errorf("known hosts file %s: %w", file, err)
	}
	cb, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("known hosts file %s: %w", file, err)
	}
	return cb, nil
}

// errKeyCaptured aborts the handshake once the host key is known.
var errKeyCaptured = errors.New("host key captured")

// ScanHostKey connects to host:port and returns the key the server presents
// together with the remote address.
func ScanHostKey(ctx context.Context, host string, port int, timeout time.Duration) (ssh.PublicKey, net.Addr, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	var key ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User: "fabrik",
		HostKeyCallback: func(_ string, _ net.Addr, k ssh.PublicKey) error {
			key = k
			return errKeyCaptured
		},
	}
	_, _, _, err = ssh.NewClientConn(conn, addr, cfg)
	if key != nil {
		return key, conn.RemoteAddr(), nil
	}
	return nil, nil, fmt.Errorf("could not read host key of %s: %w", addr, err)
}

// EnsureKnownHosts appends the host keys of entries ("host" or "host:port")
// that are missing from file. A key that differs from a known one is an
// error. It returns the entries that were added.
func EnsureKnownHosts(ctx context.Context, file string, entries []string, timeout time.Duration) ([]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if file == "" {
		file = DefaultKnownHostsFile()
	}
	var added []string
	for _, entry := range entries {
		host, port := ParseHostPort(entry)
		cb, err := knownHostsCallback(file)
		if err != nil {
			return added, err
		}
		key, remote, err := ScanHostKey(ctx, host, port, timeout)
		if err != nil {
			return added, err
		}

		addr := net.JoinHostPort(host, strconv.Itoa(port))
		err = cb(addr, remote, key)
		if err == nil {
			continue
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return added, err
		}
		if len(keyErr.Want) > 0 {
			return added, fmt.Errorf("host key of %s does not match %s:%d", addr, keyErr.Want[0].Filename, keyErr.Want[0].Line)
		}
		if err := appendKnownHost(file, addr, key); err != nil {
			return added, err
		}
		added = append(added, knownhosts.Normalize(addr))
	}
	return added, nil
}

func appendKnownHost(file, addr string, key ssh.PublicKey) error {
	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, knownhosts.Line([]string{knownhosts.Normalize(addr)}, key))
	return err
}
