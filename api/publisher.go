package api

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// EventPublisher hands board events to a bounded set of workers which
// deliver them to every sink. Delivery is best effort; failures are logged.
type EventPublisher struct {
	sinks   []Publisher
	jobs    chan domain.BoardEvent
	timeout time.Duration
	handoff time.Duration
	logger  *log.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// PublisherConfig sizes the worker pool.
type PublisherConfig struct {
	Workers        int
	Buffer         int
	Timeout        time.Duration
	HandoffTimeout time.Duration
}

// NewEventPublisher starts the workers.
func NewEventPublisher(cfg PublisherConfig, logger *log.Logger, sinks ...Publisher) *EventPublisher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	p := &EventPublisher{
		sinks:   sinks,
		jobs:    make(chan domain.BoardEvent, cfg.Buffer),
		timeout: cfg.Timeout,
		handoff: cfg.HandoffTimeout,
		logger:  logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("event publisher started, workers: %d, buffer: %d, sinks: %d", cfg.Workers, cfg.Buffer, len(sinks))
	return p
}

// Publish queues ev for delivery. When the buffer stays full past the
// handoff timeout the event is delivered on the caller's goroutine.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.BoardEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errPublisherClosed
	}
	if p.tryEnqueue(ev) {
		return nil
	}
	p.logger.Warn("publish buffer saturated; delivering inline")
	return p.deliver(context.WithoutCancel(ctx), ev)
}

// Close stops accepting events and waits for queued ones to be delivered.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

var errPublisherClosed = errors.New("publisher closed")

func (p *EventPublisher) tryEnqueue(ev domain.BoardEvent) bool {
	select {
	case p.jobs <- ev:
		return true
	default:
	}
	if p.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(p.handoff)
	defer timer.Stop()
	select {
	case p.jobs <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func (p *EventPublisher) worker(id int) {
	defer p.wg.Done()
	for ev := range p.jobs {
		if err := p.deliver(context.Background(), ev); err != nil {
			p.logger.WithError(err).WithFields(log.Fields{
				"worker":  id,
				"boardId": ev.BoardID,
				"type":    ev.Type,
			}).Error("publish board event failed")
		}
	}
}

func (p *EventPublisher) deliver(ctx context.Context, ev domain.BoardEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
