package sshclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// shellEscape escapes a string for safe single-quoted inclusion in a shell command.
func shellEscape(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// Config describes one ssh endpoint.
type Config struct {
	User         string
	Host         string
	Port         int
	IdentityFile string
	Password     string
	// DisableKnownHosts skips host key verification.
	DisableKnownHosts bool
	KnownHostsFile    string
	Timeout           time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSHClient represents an SSH client connection
type SSHClient struct {
	client *ssh.Client
	config *ssh.ClientConfig
	addr   string
	agent  net.Conn
}

// NewSSHClient prepares a client. Authentication uses the ssh agent when
// SSH_AUTH_SOCK is set, then the identity file or the default keys of the
// user, then the password.
func NewSSHClient(cfg Config) (*SSHClient, error) {
	c := &SSHClient{addr: cfg.addr()}

	var authMethods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			c.agent = conn
			authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	keyFiles := []string{cfg.IdentityFile}
	if cfg.IdentityFile == "" {
		keyFiles = defaultIdentityFiles()
	}
	var signers []ssh.Signer
	for _, f := range keyFiles {
		key, err := os.ReadFile(f)
		if err != nil {
			if cfg.IdentityFile != "" {
				return nil, fmt.Errorf("unable to read private key: %w", err)
			}
			continue
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			if cfg.IdentityFile != "" {
				return nil, fmt.Errorf("unable to parse private key: %w", err)
			}
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		authMethods = append(authMethods, ssh.PublicKeys(signers...))
	}
	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}
	if len(authMethods) == 0 {
		c.closeAgent()
		return nil, errors.New("no authentication method available (ssh agent, private key or password)")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if !cfg.DisableKnownHosts {
		cb, err := knownHostsCallback(cfg.KnownHostsFile)
		if err != nil {
			c.closeAgent()
			return nil, err
		}
		hostKeyCallback = cb
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.config = &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}
	return c, nil
}

func defaultIdentityFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		out = append(out, filepath.Join(home, ".ssh", name))
	}
	return out
}

func (c *SSHClient) closeAgent() {
	if c.agent != nil {
		c.agent.Close()
		c.agent = nil
	}
}

// Connect establishes the SSH connection
func (c *SSHClient) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: c.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.addr, c.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s failed: %w", c.addr, err)
	}
	c.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

// Close closes the SSH connection
func (c *SSHClient) Close() error {
	c.closeAgent()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// RunCommandWithOutput runs cmd in a new session and returns its combined output.
func (c *SSHClient) RunCommandWithOutput(cmd string) (string, error) {
	if c.client == nil {
		return "", errors.New("SSH client not connected")
	}
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	out, err := session.CombinedOutput(cmd)
	return string(out), err
}

func readAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read scp response: %w", err)
	}
	if b == 0 {
		return nil
	}
	msg, _ := r.ReadString('\n')
	return fmt.Errorf("scp remote error: %s", strings.TrimSpace(msg))
}

// UploadFile copies a local file to remotePath using the scp protocol.
func (c *SSHClient) UploadFile(localPath, remotePath string) error {
	if c.client == nil {
		return errors.New("SSH client not connected")
	}
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer localFile.Close()

	stat, err := localFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat local file: %w", err)
	}
	if stat.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}

	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	remotePath = path.Clean(strings.ReplaceAll(remotePath, "\\", "/"))
	if err := session.Start("scp -t " + shellEscape(remotePath)); err != nil {
		return fmt.Errorf("failed to start scp on remote: %w", err)
	}
	reader := bufio.NewReader(stdout)
	if err := readAck(reader); err != nil {
		return err
	}

	fmt.Fprintf(stdin, "C%04o %d %s\n", stat.Mode().Perm(), stat.Size(), path.Base(remotePath))
	if err := readAck(reader); err != nil {
		return err
	}
	if _, err := io.Copy(stdin, localFile); err != nil {
		return fmt.Errorf("failed to send file content: %w", err)
	}
	if _, err := stdin.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to finish transfer: %w", err)
	}
	if err := readAck(reader); err != nil {
		return err
	}
	stdin.Close()
	return session.Wait()
}

// DownloadFile copies remotePath to localPath using the scp protocol.
func (c *SSHClient) DownloadFile(localPath, remotePath string) error {
	if c.client == nil {
		return errors.New("SSH client not connected")
	}
	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	remotePath = path.Clean(strings.ReplaceAll(remotePath, "\\", "/"))
	if err := session.Start("scp -f " + shellEscape(remotePath)); err != nil {
		return fmt.Errorf("failed to start scp on remote: %w", err)
	}
	if _, err := stdin.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to write scp null byte: %w", err)
	}

	reader := bufio.NewReader(stdout)
	b, err := reader.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read scp header byte: %w", err)
	}
	if b == 1 || b == 2 {
		msg, _ := reader.ReadString('\n')
		return fmt.Errorf("scp remote error: %s", strings.TrimSpace(msg))
	}
	if b != 'C' {
		return fmt.Errorf("unexpected scp header: %q", b)
	}
	header, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read scp header: %w", err)
	}
	mode, size, err := parseSCPHeader(header)
	if err != nil {
		return err
	}
	if _, err := stdin.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to acknowledge header: %w", err)
	}

	if info, err := os.Stat(localPath); err == nil && info.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}
	localFile, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	if _, err := io.CopyN(localFile, reader, size); err != nil {
		localFile.Close()
		return fmt.Errorf("failed to receive file content: %w", err)
	}
	if err := localFile.Close(); err != nil {
		return err
	}
	if err := readAck(reader); err != nil {
		return err
	}
	if _, err := stdin.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to acknowledge transfer: %w", err)
	}
	stdin.Close()
	return session.Wait()
}

// parseSCPHeader parses "0644 1234 name" as sent after the C byte.
func parseSCPHeader(header string) (os.FileMode, int64, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 3)
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("invalid scp header: %q", header)
	}
	mode, err := strconv.ParseUint(parts[0], 8, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid scp mode %q: %w", parts[0], err)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid scp size %q: %w", parts[1], err)
	}
	return os.FileMode(mode), size, nil
}

// ParseHostPort splits "user@host:port" into host and port, defaulting to 22.
func ParseHostPort(entry string) (string, int) {
	if i := strings.LastIndex(entry, "@"); i >= 0 {
		entry = entry[i+1:]
	}
	host, portStr, err := net.SplitHostPort(entry)
	if err != nil {
		return strings.Trim(entry, "[]"), 22
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 22
	}
	return host, port
}
