package api

import (
	"context"
	"testing"
	"time"

	"prism-board/domain"
)

func TestBrokerNotifiesOnlyMatchingBoard(t *testing.T) {
	b := NewBroker()
	ch1 := b.subscribe("b1")
	ch2 := b.subscribe("b2")

	if err := b.Publish(context.Background(), domain.BoardEvent{BoardID: "b1", Version: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-ch1:
		if ev.Version != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
	select {
	case <-ch2:
		t.Fatal("other board must not be notified")
	default:
	}
}

func TestBrokerKeepsLatestForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe("b1")

	b.Notify(domain.BoardEvent{BoardID: "b1", Version: 1})
	b.Notify(domain.BoardEvent{BoardID: "b1", Version: 2})
	b.Notify(domain.BoardEvent{BoardID: "b1", Version: 3})

	ev := <-ch
	if ev.Version != 3 {
		t.Fatalf("expected latest version 3, got %d", ev.Version)
	}
	select {
	case <-ch:
		t.Fatal("expected a single buffered notification")
	default:
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.subscribe("b1")
	if b.Subscribers("b1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	b.unsubscribe("b1", ch)
	if b.Subscribers("b1") != 0 {
		t.Fatalf("expected no subscribers")
	}
	b.Notify(domain.BoardEvent{BoardID: "b1"})
	select {
	case <-ch:
		t.Fatal("received notification after unsubscribe")
	default:
	}
}
