package sshclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// SSHTunnel forwards a local listener to an address reachable from the ssh
// server, like `ssh -L`.
type SSHTunnel struct {
	localAddr  string
	remoteAddr string
	sshClient  *SSHClient
	listener   net.Listener
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	// Logf receives connection errors; nil discards them.
	Logf func(format string, args ...interface{})
}

// NewSSHTunnel creates a new SSH tunnel
func NewSSHTunnel(sshClient *SSHClient, localAddr, remoteAddr string) *SSHTunnel {
	return &SSHTunnel{
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		sshClient:  sshClient,
		stopChan:   make(chan struct{}),
	}
}

func (t *SSHTunnel) logf(format string, args ...interface{}) {
	if t.Logf != nil {
		t.Logf(format, args...)
	}
}

// Start starts the SSH tunnel
func (t *SSHTunnel) Start() error {
	if t.sshClient.client == nil {
		return errors.New("SSH client not connected")
	}
	listener, err := net.Listen("tcp", t.localAddr)
	if err != nil {
		return fmt.Errorf("failed to start local listener: %w", err)
	}
	t.listener = listener

	t.wg.Add(1)
	go t.acceptConnections()
	return nil
}

func (t *SSHTunnel) acceptConnections() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logf("failed to accept connection: %v", err)
			continue
		}
		go t.handleConnection(conn)
	}
}

// handleConnection forwards data between local and remote connections
func (t *SSHTunnel) handleConnection(localConn net.Conn) {
	defer localConn.Close()

	remoteConn, err := t.sshClient.client.Dial("tcp", t.remoteAddr)
	if err != nil {
		t.logf("failed to connect to %s: %v", t.remoteAddr, err)
		return
	}
	defer remoteConn.Close()

	done := make(chan struct{})
	go func() {
		io.Copy(remoteConn, localConn)
		remoteConn.Close()
		close(done)
	}()
	io.Copy(localConn, remoteConn)
	localConn.Close()
	<-done
}

// Stop closes the listener. Open connections end with their peers.
func (t *SSHTunnel) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.listener != nil {
			err = t.listener.Close()
		}
		t.wg.Wait()
	})
	return err
}

// Addr returns the bound local address of the tunnel
func (t *SSHTunnel) Addr() string {
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.localAddr
}
