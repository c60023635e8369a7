// Package mock is a dependency-free, in-memory transport.Transport used by
// the test suite and as a reference for implementing a new transport
// (e.g. Telnet) against the same contract the SSH transport satisfies.
package mock

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// Transport is a bidirectional in-memory line channel. The "device side"
// methods (InjectLine, Sent) are driven by the test; the exported
// transport.Transport methods are what the session engine calls.
type Transport struct {
	mu    sync.Mutex
	rxBuf bytes.Buffer

	sent   chan string
	closed chan struct{}
	once   sync.Once
}

// New returns a ready-to-use mock transport. bufferedSent sizes the channel
// returned by Sent; tests that don't drain it should size generously.
func New(bufferedSent int) *Transport {
	return &Transport{
		sent:   make(chan string, bufferedSent),
		closed: make(chan struct{}),
	}
}

// InjectLine makes line (without a trailing newline) available to the
// client side, as if the device had sent it.
func (t *Transport) InjectLine(line string) {
	t.mu.Lock()
	t.rxBuf.WriteString(line)
	t.rxBuf.WriteByte('\n')
	t.mu.Unlock()
}

// Sent is the channel of commands the client side has written, newline
// stripped, in send order.
func (t *Transport) Sent() <-chan string {
	return t.sent
}

func (t *Transport) Start(exit <-chan struct{}, connected chan<- struct{}) error {
	go func() {
		<-exit
		_ = t.Close()
	}()
	close(connected)
	return nil
}

func (t *Transport) RecvReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rxBuf.Len() > 0
}

func (t *Transport) Recv(size int) ([]byte, error) {
	for {
		t.mu.Lock()
		if t.rxBuf.Len() > 0 {
			buf := make([]byte, size)
			n, _ := t.rxBuf.Read(buf)
			t.mu.Unlock()
			return buf[:n], nil
		}
		t.mu.Unlock()

		select {
		case <-t.closed:
			return nil, errClosed
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (t *Transport) Send(p []byte) error {
	select {
	case <-t.closed:
		return errClosed
	default:
	}
	line := string(bytes.TrimRight(p, "\n"))
	select {
	case t.sent <- line:
	default:
		// Sent channel full: drop rather than block the caller. Tests
		// size the channel to whatever they intend to assert on.
	}
	return nil
}

func (t *Transport) ReadBufferSize() int {
	return 4096
}

func (t *Transport) Close() error {
	t.once.Do(func() {
		close(t.closed)
	})
	return nil
}

var errClosed = errors.New("mock transport closed")
