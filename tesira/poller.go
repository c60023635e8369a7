package tesira

import (
	"time"

	"github.com/enp6s0/tesira-go/block"
)

// poller periodically refreshes DEVICE-level status and re-drives every
// block's subscriptions and polled attributes, mirroring the device's
// own background refresh cycle: subscriptions can silently lapse across
// a device-side session renegotiation, and blocks with no subscription
// support have no other way to stay current.
type poller struct {
	s        *Session
	interval time.Duration
	exitC    chan struct{}
	doneC    chan struct{}
}

func newPoller(s *Session, intervalSeconds int) *poller {
	return &poller{
		s:        s,
		interval: time.Duration(intervalSeconds) * time.Second,
		exitC:    make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

func (p *poller) start() {
	go p.run()
}

func (p *poller) stop() {
	close(p.exitC)
	<-p.doneC
}

func (p *poller) run() {
	defer close(p.doneC)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.exitC:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick runs one refresh cycle: device-level status, then every block's
// own refresh or resubscribe, whichever it supports. A single block's
// failure is logged and does not interrupt the rest of the cycle.
func (p *poller) tick() {
	if _, err := p.s.eng.Submit("DEVICE get activeFaultList"); err != nil {
		p.s.log.WithError(err).Warn("activeFaultList poll failed")
	}
	if _, err := p.s.eng.Submit("DEVICE get networkStatus"); err != nil {
		p.s.log.WithError(err).Warn("networkStatus poll failed")
	}

	for id, inst := range p.s.Blocks() {
		if r, ok := inst.(block.Resubscriber); ok {
			if err := r.Resubscribe(); err != nil {
				p.s.log.WithError(err).WithField("id", id).Warn("resubscribe failed")
			}
		}
		if poll, ok := inst.(block.Poller); ok {
			if err := poll.RefreshStatus(); err != nil {
				p.s.log.WithError(err).WithField("id", id).Warn("status refresh failed")
			}
		}
	}
}
