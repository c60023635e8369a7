// Package ssh implements transport.Transport over an SSH interactive
// session, the way production Tesira deployments reach the device's TTP
// control port.
package ssh

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config describes how to dial and authenticate the SSH session.
type Config struct {
	Address         string // host:port
	User            string
	Password        string // used when no AuthMethods are supplied
	AuthMethods     []ssh.AuthMethod
	HostKeyCallback ssh.HostKeyCallback // defaults to ssh.InsecureIgnoreHostKey if nil
	DialTimeout     time.Duration
	ReadBufferSize  int
}

// Transport is a transport.Transport backed by an SSH session's stdin/stdout.
type Transport struct {
	cfg Config

	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	rx     chan []byte
	rxErr  chan error
	closed chan struct{}

	mu      sync.Mutex
	pending []byte // leftover bytes held between Recv calls
}

// New returns a Transport that dials and authenticates lazily in Start.
func New(cfg Config) *Transport {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 4096
	}
	if cfg.HostKeyCallback == nil {
		cfg.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	return &Transport{
		cfg:    cfg,
		rx:     make(chan []byte, 64),
		rxErr:  make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (t *Transport) Start(exit <-chan struct{}, connected chan<- struct{}) error {
	authMethods := t.cfg.AuthMethods
	if len(authMethods) == 0 {
		authMethods = []ssh.AuthMethod{ssh.Password(t.cfg.Password)}
	}

	clientCfg := &ssh.ClientConfig{
		User:            t.cfg.User,
		Auth:            authMethods,
		HostKeyCallback: t.cfg.HostKeyCallback,
		Timeout:         t.cfg.DialTimeout,
	}

	client, err := ssh.Dial("tcp", t.cfg.Address, clientCfg)
	if err != nil {
		return fmt.Errorf("dial %q: %w", t.cfg.Address, err)
	}
	t.client = client

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("open session: %w", err)
	}
	t.session = session

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	t.stdin = stdin

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdout = stdout

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	go t.readLoop()
	go func() {
		<-exit
		_ = t.Close()
	}()

	close(connected)
	return nil
}

// readLoop pumps bytes from the SSH stdout pipe into rx so RecvReady/Recv
// can be implemented as a non-blocking poll, per the transport.Transport
// contract, without reimplementing buffering twice.
func (t *Transport) readLoop() {
	buf := make([]byte, t.cfg.ReadBufferSize)
	for {
		n, err := t.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.rx <- chunk:
			case <-t.closed:
				return
			}
		}
		if err != nil {
			select {
			case t.rxErr <- err:
			default:
			}
			return
		}
	}
}

func (t *Transport) RecvReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) > 0 || len(t.rx) > 0
}

func (t *Transport) Recv(size int) ([]byte, error) {
	t.mu.Lock()
	if len(t.pending) > 0 {
		n := size
		if n > len(t.pending) {
			n = len(t.pending)
		}
		chunk := t.pending[:n]
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return chunk, nil
	}
	t.mu.Unlock()

	select {
	case chunk := <-t.rx:
		t.mu.Lock()
		defer t.mu.Unlock()
		if len(chunk) > size {
			t.pending = chunk[size:]
			return chunk[:size], nil
		}
		return chunk, nil
	case err := <-t.rxErr:
		return nil, fmt.Errorf("ssh read: %w", err)
	case <-t.closed:
		return nil, net.ErrClosed
	case <-time.After(2 * time.Millisecond):
		return nil, nil
	}
}

func (t *Transport) Send(p []byte) error {
	_, err := t.stdin.Write(p)
	if err != nil {
		return fmt.Errorf("ssh write: %w", err)
	}
	return nil
}

func (t *Transport) ReadBufferSize() int {
	return t.cfg.ReadBufferSize
}

func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	if t.session != nil {
		_ = t.session.Close()
	}
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
