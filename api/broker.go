package api

import (
	"context"
	"sync"

	"prism-board/domain"
)

// Broker fans board change notifications out to open stream connections on
// this instance. Notifications carry no payload; subscribers refetch.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.BoardEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan domain.BoardEvent]struct{})}
}

func (b *Broker) subscribe(boardID string) chan domain.BoardEvent {
	ch := make(chan domain.BoardEvent, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[boardID]
	if !ok {
		set = make(map[chan domain.BoardEvent]struct{})
		b.subs[boardID] = set
	}
	set[ch] = struct{}{}
	return ch
}

func (b *Broker) unsubscribe(boardID string, ch chan domain.BoardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[boardID]
	delete(set, ch)
	if len(set) == 0 {
		delete(b.subs, boardID)
	}
}

// Notify wakes every subscriber of ev.BoardID. Slow subscribers keep only
// the latest event.
func (b *Broker) Notify(ev domain.BoardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.BoardID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// Publish implements Publisher.
func (b *Broker) Publish(_ context.Context, ev domain.BoardEvent) error {
	b.Notify(ev)
	return nil
}

// Subscribers returns the number of open subscriptions for boardID.
func (b *Broker) Subscribers(boardID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[boardID])
}

var _ Publisher = (*Broker)(nil)
