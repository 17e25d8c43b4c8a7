// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PumpAction is invoked once per pump tick. It reports whether it sent any
// changes, and an error that the pump logs before continuing (the pump
// never stops itself because of an action error — callers that need to
// close the session on error do so from inside the action).
type PumpAction func() (sentChanges bool, err error)

// UpdatePump is the periodic task that drives a session's outgoing update
// rate: a single helper goroutine with a signal channel and a rate
// limiter, exactly the "periodic thread" described for the update loop —
// no coroutines or async machinery beyond that.
type UpdatePump struct {
	logger Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	signalCh chan struct{}
	doneCh   chan struct{}
	limiter  *rate.Limiter
}

// NewUpdatePump creates an idle pump. Call Start to begin ticking.
func NewUpdatePump(logger Logger) *UpdatePump {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &UpdatePump{logger: logger}
}

// Start begins invoking action at most rateHz times per second. If
// runImmediately, action is invoked once before the first wait. Start is a
// no-op if the pump is already running.
func (p *UpdatePump) Start(action PumpAction, rateHz float64, runImmediately bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.signalCh = make(chan struct{}, 1)
	p.doneCh = make(chan struct{})
	p.limiter = rate.NewLimiter(rate.Limit(rateHz), 1)

	go p.run(action, runImmediately)
}

// Signal short-circuits the pump's current wait so action runs as soon as
// the rate limiter allows, rather than at the next naturally-scheduled
// tick. Signal is safe to call before Start or after Stop; it is then a
// no-op.
func (p *UpdatePump) Signal() {
	p.mu.Lock()
	ch := p.signalCh
	p.mu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop terminates the pump promptly and waits for its goroutine to exit.
// Stop is idempotent.
func (p *UpdatePump) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (p *UpdatePump) run(action PumpAction, runImmediately bool) {
	defer close(p.doneCh)

	if runImmediately {
		p.tick(action)
	}

	for {
		reservation := p.limiter.Reserve()
		delay := reservation.Delay()
		timer := time.NewTimer(delay)

		select {
		case <-p.stopCh:
			timer.Stop()
			reservation.Cancel()
			return
		case <-p.signalCh:
			timer.Stop()
		case <-timer.C:
		}

		p.tick(action)
	}
}

func (p *UpdatePump) tick(action PumpAction) {
	_, err := action()
	if err != nil {
		logSessionError(p.logger, "update pump action failed", err)
	}
}
