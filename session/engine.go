// Package session implements the command/reply engine and subscription
// router sitting on top of a transport.Transport: a single outstanding
// command at a time, FIFO ordered, with asynchronous publish messages
// routed to whichever subscriber registered the matching token.
package session

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/enp6s0/tesira-go/transport"
	"github.com/enp6s0/tesira-go/ttp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultCommandTimeout is how long Submit waits for a reply before
// giving up with a *TimeoutError.
const DefaultCommandTimeout = 3 * time.Second

// SubscriptionOwner receives publish messages for a token it registered
// with Engine.Register. HandlePublish must not block or call back into
// the engine synchronously; it is invoked from the engine's single
// reader goroutine.
type SubscriptionOwner interface {
	BlockID() string
	HandlePublish(Publish)
}

// Publish is a routed, type-enriched publish message. Type comes from the
// subscription record rather than the wire, since the wire publish frame
// itself carries only a token, an optional channel index, and a value.
type Publish struct {
	Token   string
	Type    string
	Channel *int
	Value   ttp.Value
}

type subscriptionRecord struct {
	owner SubscriptionOwner
	typ   string
}

type reply struct {
	resp ttp.Response
	err  error
}

type submission struct {
	id     string // correlates this submission's log lines across the writer and reader goroutines
	line   string
	reply  chan reply // written by the reader goroutine when a non-publish line arrives
	result chan reply // written by the writer goroutine, read by Submit
}

// Engine serializes commands onto a transport and routes publish
// messages to registered subscribers. Callers never talk to the
// transport directly.
type Engine struct {
	tr      transport.Transport
	log     *logrus.Entry
	timeout time.Duration

	submitC   chan *submission
	exitC     chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	waiterMu sync.Mutex
	waiter   *submission

	subsMu sync.Mutex
	subs   map[string]*subscriptionRecord
}

// New returns an Engine bound to tr. Start must be called before Submit.
func New(tr transport.Transport, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		tr:      tr,
		log:     log,
		timeout: DefaultCommandTimeout,
		submitC: make(chan *submission),
		exitC:   make(chan struct{}),
		subs:    make(map[string]*subscriptionRecord),
	}
}

// SetTimeout overrides DefaultCommandTimeout. Must be called before Start.
func (e *Engine) SetTimeout(d time.Duration) {
	e.timeout = d
}

// Start brings the transport up and begins the reader and writer loops.
// It blocks until the transport reports it is connected or the engine's
// command timeout elapses.
func (e *Engine) Start() error {
	connected := make(chan struct{})
	if err := e.tr.Start(e.exitC, connected); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	select {
	case <-connected:
	case <-time.After(e.timeout):
		return ErrConnectTimeout
	}

	e.wg.Add(2)
	go e.readLoop()
	go e.writeLoop()
	return nil
}

// Close stops the reader and writer loops, fails any pending or
// in-flight submission with ErrClosed, and closes the transport. Safe to
// call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.exitC)
	})
	e.wg.Wait()
	return e.tr.Close()
}

// Register associates token with owner so future publish messages
// carrying that token are delivered to owner.HandlePublish. typ is
// carried through to the delivered Publish's Type field.
func (e *Engine) Register(token, typ string, owner SubscriptionOwner) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs[token] = &subscriptionRecord{owner: owner, typ: typ}
}

// Unregister removes a subscription registered with Register.
func (e *Engine) Unregister(token string) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	delete(e.subs, token)
}

// Submit writes line to the device and waits for its reply. Only one
// command is ever in flight on the wire at a time; concurrent callers
// queue in submission order.
func (e *Engine) Submit(line string) (ttp.Response, error) {
	sub := &submission{
		id:     uuid.NewString(),
		line:   line,
		reply:  make(chan reply, 1),
		result: make(chan reply, 1),
	}

	select {
	case e.submitC <- sub:
	case <-e.exitC:
		return ttp.Response{}, ErrClosed
	}

	r := <-sub.result
	return r.resp, r.err
}

// writeLoop is the single writer: it owns wire order, writes at most one
// command at a time, and waits for either its reply or the timeout
// before dequeuing the next submission.
func (e *Engine) writeLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.exitC:
			e.drainPending()
			return
		case sub := <-e.submitC:
			e.waiterMu.Lock()
			e.waiter = sub
			e.waiterMu.Unlock()

			e.log.WithField("id", sub.id).WithField("line", sub.line).Debug("writing command")

			if err := e.tr.Send([]byte(sub.line + "\n")); err != nil {
				e.waiterMu.Lock()
				e.waiter = nil
				e.waiterMu.Unlock()
				sub.result <- reply{err: fmt.Errorf("send %q: %w", sub.line, err)}
				continue
			}

			select {
			case r := <-sub.reply:
				sub.result <- r
			case <-time.After(e.timeout):
				e.waiterMu.Lock()
				if e.waiter == sub {
					e.waiter = nil
				}
				e.waiterMu.Unlock()
				e.log.WithField("id", sub.id).WithField("line", sub.line).Warn("command timed out")
				sub.result <- reply{err: &TimeoutError{Line: sub.line}}
			case <-e.exitC:
				e.waiterMu.Lock()
				if e.waiter == sub {
					e.waiter = nil
				}
				e.waiterMu.Unlock()
				sub.result <- reply{err: ErrClosed}
				e.drainPending()
				return
			}
		}
	}
}

func (e *Engine) drainPending() {
	for {
		select {
		case sub := <-e.submitC:
			sub.result <- reply{err: ErrClosed}
		default:
			return
		}
	}
}

// readLoop is the single reader: it assembles newline-delimited lines
// from the transport, routes publish messages to subscribers, and
// delivers OK/Error replies to whichever submission is currently
// waiting.
func (e *Engine) readLoop() {
	defer e.wg.Done()

	var buf bytes.Buffer
	size := e.tr.ReadBufferSize()

	for {
		select {
		case <-e.exitC:
			return
		default:
		}

		chunk, err := e.tr.Recv(size)
		if err != nil {
			e.log.WithError(err).Warn("transport recv failed, reader loop exiting")
			// With no reader no reply can arrive, so shut the engine down:
			// the writer fails in-flight and queued submissions with ErrClosed.
			e.closeOnce.Do(func() { close(e.exitC) })
			return
		}
		if len(chunk) == 0 {
			continue
		}

		buf.Write(chunk)
		for {
			b := buf.Bytes()
			idx := bytes.IndexByte(b, '\n')
			if idx < 0 {
				break
			}
			line := string(bytes.TrimRight(b[:idx], "\r"))
			buf.Next(idx + 1)
			e.dispatch(line)
		}
	}
}

func (e *Engine) dispatch(line string) {
	resp, ok := ttp.ParseLine(line)
	if !ok {
		return
	}

	if resp.Kind == ttp.Publish {
		e.routePublish(resp)
		return
	}

	e.waiterMu.Lock()
	w := e.waiter
	e.waiter = nil
	e.waiterMu.Unlock()

	if w == nil {
		e.log.WithField("line", line).Warn("reply received with no pending command")
		return
	}
	w.reply <- reply{resp: resp}
}

func (e *Engine) routePublish(resp ttp.Response) {
	e.subsMu.Lock()
	rec, ok := e.subs[resp.Token]
	e.subsMu.Unlock()

	if !ok {
		e.log.WithField("token", resp.Token).Error("publish for unknown subscription token")
		return
	}

	rec.owner.HandlePublish(Publish{
		Token:   resp.Token,
		Type:    rec.typ,
		Channel: resp.Channel,
		Value:   resp.Value,
	})
}
