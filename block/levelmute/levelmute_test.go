package levelmute

import (
	"sync"
	"testing"
	"time"

	"github.com/enp6s0/tesira-go/session"
	"github.com/enp6s0/tesira-go/transport/mock"
)

// runFixtureDevice answers the construction and subscription sequence for
// a two-channel block named id, then keeps echoing "+OK" for anything
// else (i.e. later Set calls) until done is closed.
func runFixtureDevice(t *testing.T, tr *mock.Transport, id string, done <-chan struct{}) {
	t.Helper()
	script := []string{
		id + " get numChannels", "+OK 2",
		id + " get label 1", `+OK "Ch1"`,
		id + " get minLevel 1", "+OK -60",
		id + " get maxLevel 1", "+OK 12",
		id + " get label 2", `+OK "Ch2"`,
		id + " get minLevel 2", "+OK -60",
		id + " get maxLevel 2", "+OK 12",
		`"` + id + `" subscribe "mutes" "` + id + `_mutes"`, "+OK",
		`"` + id + `" subscribe "levels" "` + id + `_levels"`, "+OK",
	}

	go func() {
		i := 0
		for {
			select {
			case cmd, ok := <-tr.Sent():
				if !ok {
					return
				}
				if i+1 < len(script) && cmd == script[i] {
					tr.InjectLine(script[i+1])
					i += 2
					continue
				}
				// Past the fixed script: any Set call just succeeds.
				tr.InjectLine("+OK")
			case <-done:
				return
			}
		}
	}()
}

// newTestBlock constructs a two-channel block against the fixture device
// and returns a function that stops the fixture responder, for tests that
// read tr.Sent() themselves.
func newTestBlock(t *testing.T) (*Block, *mock.Transport, func()) {
	t.Helper()
	tr := mock.New(32)
	eng := session.New(tr, nil)
	eng.SetTimeout(300 * time.Millisecond)
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }
	t.Cleanup(stop)
	runFixtureDevice(t, tr, "Mixer1", done)

	inst, err := New("Mixer1", eng, nil, nil)
	if err != nil {
		t.Fatalf("construct block: %v", err)
	}
	b := inst.(*Block)
	return b, tr, stop
}

func TestSetLevelIssuesExactCommandAndUpdatesLocalState(t *testing.T) {
	b, tr, stopFixture := newTestBlock(t)

	// Stop the fixture responder so this test's goroutine is the only
	// reader of tr.Sent(); it records the command and then replies.
	stopFixture()
	done := make(chan string, 1)
	go func() {
		sent := <-tr.Sent()
		done <- sent
		tr.InjectLine("+OK")
	}()

	if err := b.SetLevel(1, -6); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}

	select {
	case sent := <-done:
		if sent != `"Mixer1" set level 1 -6` {
			t.Fatalf("unexpected command: %q", sent)
		}
	case <-time.After(time.Second):
		t.Fatal("expected SetLevel to write a command")
	}

	ch, ok := b.Channel(1)
	if !ok {
		t.Fatal("expected channel 1 to exist")
	}
	level, ok := ch.Level()
	if !ok || level != -6 {
		t.Fatalf("expected local level -6, got %v (%v)", level, ok)
	}
}

// Channel 0 addresses every channel at once, but the wire still expects
// the literal 0, not an omitted channel argument.
func TestSetMuteChannelZeroSendsLiteralZero(t *testing.T) {
	b, tr, stopFixture := newTestBlock(t)

	stopFixture()
	done := make(chan string, 1)
	go func() {
		sent := <-tr.Sent()
		done <- sent
		tr.InjectLine("+OK")
	}()

	if err := b.SetMute(0, true); err != nil {
		t.Fatalf("SetMute: %v", err)
	}

	select {
	case sent := <-done:
		if sent != `"Mixer1" set mute 0 true` {
			t.Fatalf("unexpected command: %q", sent)
		}
	case <-time.After(time.Second):
		t.Fatal("expected SetMute to write a command")
	}
}

func TestSetLevelLeavesStateUntouchedOnError(t *testing.T) {
	tr := mock.New(32)
	eng := session.New(tr, nil)
	eng.SetTimeout(300 * time.Millisecond)
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer eng.Close()

	done := make(chan struct{})
	runFixtureDevice(t, tr, "Mixer1", done)

	inst, err := New("Mixer1", eng, nil, nil)
	if err != nil {
		t.Fatalf("construct block: %v", err)
	}
	b := inst.(*Block)

	// Stop the fixture responder before issuing the next command so it
	// doesn't race this test's own goroutine for tr.Sent().
	close(done)

	ch, _ := b.Channel(1)
	before, _ := ch.Level()

	go func() {
		cmd := <-tr.Sent()
		_ = cmd
		tr.InjectLine("-ERR invalid level")
	}()

	if err := b.SetLevel(1, 999); err == nil {
		t.Fatal("expected SetLevel to fail")
	}

	after, _ := ch.Level()
	if after != before {
		t.Fatalf("expected level unchanged after error, got %v (was %v)", after, before)
	}
}

func TestMutesPublishUpdatesChannelState(t *testing.T) {
	b, tr, _ := newTestBlock(t)

	tr.InjectLine("! publishToken=Mixer1_mutes value=[true false]")
	time.Sleep(50 * time.Millisecond)

	ch1, _ := b.Channel(1)
	ch2, _ := b.Channel(2)
	m1, _ := ch1.Muted()
	m2, _ := ch2.Muted()
	if !m1 {
		t.Error("expected channel 1 muted")
	}
	if m2 {
		t.Error("expected channel 2 unmuted")
	}
}
