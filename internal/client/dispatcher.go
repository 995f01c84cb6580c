package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned when the dispatcher cannot accept more notifications.
var ErrQueueFull = errors.New("notification queue is full")

// ErrDispatcherClosed is returned after Close.
var ErrDispatcherClosed = errors.New("notification dispatcher is closed")

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	QueueSize    int
	MaxAttempts  int
	RetryBackoff time.Duration
}

// Dispatcher delivers notifications asynchronously through next. Notify never
// blocks on delivery; failed deliveries are retried with linear backoff and
// then dropped with a log entry.
type Dispatcher struct {
	next   Notifier
	cfg    DispatcherConfig
	log    zerolog.Logger
	queue  chan Notification
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher creates a dispatcher and starts its worker.
func NewDispatcher(next Notifier, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		next:   next,
		cfg:    cfg,
		log:    log,
		queue:  make(chan Notification, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues n for delivery.
func (d *Dispatcher) Notify(_ context.Context, n Notification) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- n:
		return nil
	default:
		d.log.Warn().
			Str("template", n.TemplateKey).
			Str("recipient", n.Recipient).
			Msg("notification: queue full, dropping")
		return ErrQueueFull
	}
}

// Close stops accepting notifications and drains the queue. Pending deliveries
// are abandoned when ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	var err error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if d.ctx.Err() != nil {
			return
		}
		if err = d.next.Notify(d.ctx, n); err == nil {
			return
		}
		if attempt < d.cfg.MaxAttempts {
			select {
			case <-time.After(d.cfg.RetryBackoff * time.Duration(attempt)):
			case <-d.ctx.Done():
				return
			}
		}
	}

	d.log.Warn().Err(err).
		Str("template", n.TemplateKey).
		Str("recipient", n.Recipient).
		Int("attempts", d.cfg.MaxAttempts).
		Msg("notification: delivery failed, giving up")
}
