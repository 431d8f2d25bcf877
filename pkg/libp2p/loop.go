package libp2p

import (
	"context"
	"errors"

	"github.com/baderanaas/lanchat/pkg/discovery"
)

var (
	// ErrInputClosed ends the loop when the local input runs out.
	ErrInputClosed = errors.New("input closed")
	// ErrQuit is returned by a handler to stop the loop on request.
	ErrQuit = errors.New("quit")
)

type LoopState int

const (
	Idle LoopState = iota
	PollingInput
	PollingNetwork
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "idle"
	case PollingInput:
		return "polling-input"
	case PollingNetwork:
		return "polling-network"
	default:
		return "unknown"
	}
}

// eventHandler is the single dispatch point for everything the loop receives.
type eventHandler interface {
	handleInput(line string) error
	handleRPC(in InboundRPC)
	handleDiscovery(ev discovery.Event)
	idle()
}

// Loop multiplexes local input, inbound RPCs and discovery events onto one goroutine.
type Loop struct {
	input      <-chan string
	inbound    <-chan InboundRPC
	events     <-chan discovery.Event
	handler    eventHandler
	relayOnEOF bool
	state      LoopState
}

func NewLoop(input <-chan string, inbound <-chan InboundRPC, events <-chan discovery.Event, h eventHandler, relayOnEOF bool) *Loop {
	return &Loop{
		input:      input,
		inbound:    inbound,
		events:     events,
		handler:    h,
		relayOnEOF: relayOnEOF,
	}
}

func (l *Loop) State() LoopState {
	return l.state
}

// Run ticks until ctx is cancelled, the input closes or a handler asks to quit.
// Cancellation is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := l.tick(); err != nil {
			return err
		}
		l.state = Idle
		l.handler.idle()

		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-l.input:
			if err := l.onInput(line, ok); err != nil {
				return err
			}
		case in, ok := <-l.inbound:
			l.onRPC(in, ok)
		case ev, ok := <-l.events:
			l.onEvent(ev, ok)
		}
	}
}

// tick drains every ready input line, then every ready network and discovery event.
func (l *Loop) tick() error {
	l.state = PollingInput
input:
	for l.input != nil {
		select {
		case line, ok := <-l.input:
			if err := l.onInput(line, ok); err != nil {
				return err
			}
		default:
			break input
		}
	}

	l.state = PollingNetwork
	for {
		select {
		case in, ok := <-l.inbound:
			l.onRPC(in, ok)
		case ev, ok := <-l.events:
			l.onEvent(ev, ok)
		default:
			return nil
		}
	}
}

func (l *Loop) onInput(line string, ok bool) error {
	if !ok {
		l.input = nil
		if l.relayOnEOF {
			log.Info("input closed, relaying only")
			return nil
		}
		return ErrInputClosed
	}
	return l.handler.handleInput(line)
}

func (l *Loop) onRPC(in InboundRPC, ok bool) {
	if !ok {
		l.inbound = nil
		return
	}
	l.handler.handleRPC(in)
}

func (l *Loop) onEvent(ev discovery.Event, ok bool) {
	if !ok {
		l.events = nil
		return
	}
	l.handler.handleDiscovery(ev)
}
