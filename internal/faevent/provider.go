package faevent

import "context"

// Decision is the result a Provider's registered Handler returns for an
// authorization-path event. Providers that only observe (never block) may
// ignore it.
type Decision struct {
	Allow     bool
	Cacheable bool
}

// Handler is invoked once per ingested event requiring an authorization
// decision.
type Handler func(ctx context.Context, event *Event) Decision

// ExitHandler is invoked when a provider observes a monitored process
// exit, so the daemon can evict that process's cached decisions (spec.md
// §4.2 NotifyExit).
type ExitHandler func(auditToken string)

// Provider abstracts the live event source (spec.md §6's "abstract
// event-provider interface" boundary — the kernel/ES client itself is out
// of scope for this module). A concrete provider owns its own
// subscription/ES-client lifecycle and calls the registered Handler for
// every event needing a decision.
type Provider interface {
	// RegisterHandler installs the authorization callback. Must be called
	// before Enable.
	RegisterHandler(h Handler)
	// RegisterExitHandler installs the process-exit notification callback.
	RegisterExitHandler(h ExitHandler)
	// Enable starts delivering events. Idempotent.
	Enable(ctx context.Context) error
	// Disable stops delivering events and releases any held resources.
	Disable() error
}

// ChannelProvider is a Provider backed by a Go channel, suitable for
// simulation, tests, and any in-process event source that does not speak
// to the Endpoint Security framework directly.
type ChannelProvider struct {
	events chan *Event
	exits  chan string

	handler     Handler
	exitHandler ExitHandler

	done   chan struct{}
	cancel context.CancelFunc
}

// NewChannelProvider builds a ChannelProvider with the given event and
// exit-notification buffer sizes.
func NewChannelProvider(bufferSize int) *ChannelProvider {
	return &ChannelProvider{
		events: make(chan *Event, bufferSize),
		exits:  make(chan string, bufferSize),
	}
}

func (c *ChannelProvider) RegisterHandler(h Handler)         { c.handler = h }
func (c *ChannelProvider) RegisterExitHandler(h ExitHandler) { c.exitHandler = h }

// Submit enqueues an event for delivery to the registered Handler. Blocks
// if the internal buffer is full.
func (c *ChannelProvider) Submit(event *Event) {
	c.events <- event
}

// NotifyExit enqueues a process-exit notification.
func (c *ChannelProvider) NotifyExit(auditToken string) {
	c.exits <- auditToken
}

func (c *ChannelProvider) Enable(ctx context.Context) error {
	if c.done != nil {
		select {
		case <-c.done:
		default:
			return nil // already delivering
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-c.events:
				if !ok {
					return
				}
				if c.handler != nil {
					c.handler(runCtx, ev)
				}
			case tok, ok := <-c.exits:
				if !ok {
					return
				}
				if c.exitHandler != nil {
					c.exitHandler(tok)
				}
			}
		}
	}()
	return nil
}

func (c *ChannelProvider) Disable() error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	return nil
}
