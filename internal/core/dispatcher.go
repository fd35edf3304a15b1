package core

import (
	"RedirectLedger/internal/event"
	"context"
	"errors"
)

var ErrDispatcherStopped = errors.New("core: dispatcher stopped")

// Dispatcher serializes every caller onto the goroutine running Run, so
// the facade needs no locks. Transports submit commands; query paths that
// need live state use Read.
type Dispatcher struct {
	facade   *LedgerFacade
	requests chan request
	done     chan struct{}
}

type request struct {
	ctx   context.Context
	evt   event.Event
	read  func(f *LedgerFacade) error
	reply chan response
}

type response struct {
	out *CoreOutput
	err error
}

func NewDispatcher(facade *LedgerFacade, queueSize int) *Dispatcher {
	return &Dispatcher{
		facade:   facade,
		requests: make(chan request, queueSize),
		done:     make(chan struct{}),
	}
}

// Run processes requests until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-d.requests:
			var resp response
			if req.read != nil {
				resp.err = req.read(d.facade)
			} else {
				resp.out, resp.err = d.facade.ProcessEvent(req.ctx, req.evt)
			}
			req.reply <- resp
		}
	}
}

// Submit queues evt and waits for its result. A nil output with a nil
// error means evt was a duplicate.
func (d *Dispatcher) Submit(ctx context.Context, evt event.Event) (*CoreOutput, error) {
	resp, err := d.roundTrip(ctx, request{ctx: ctx, evt: evt})
	if err != nil {
		return nil, err
	}
	return resp.out, resp.err
}

// Read runs fn on the facade goroutine between operations.
func (d *Dispatcher) Read(ctx context.Context, fn func(f *LedgerFacade) error) error {
	resp, err := d.roundTrip(ctx, request{ctx: ctx, read: fn})
	if err != nil {
		return err
	}
	return resp.err
}

func (d *Dispatcher) roundTrip(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)

	select {
	case d.requests <- req:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-d.done:
		return response{}, ErrDispatcherStopped
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-d.done:
		return response{}, ErrDispatcherStopped
	}
}

// QueueDepth reports pending requests for channel metrics.
func (d *Dispatcher) QueueDepth() (size, capacity int) {
	return len(d.requests), cap(d.requests)
}
