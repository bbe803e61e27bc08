package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"prism-board/domain"
)

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// EventQueue forwards board events to an Azure Storage queue for downstream
// consumers.
type EventQueue struct {
	queue messageQueue
}

func queueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{ClientOptions: azureRetry()}
}

// NewEventQueue connects to the named queue.
func NewEventQueue(connStr, name string) (*EventQueue, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, queueClientOptions())
	if err != nil {
		return nil, err
	}
	return &EventQueue{queue: q}, nil
}

// Publish enqueues ev as JSON.
func (q *EventQueue) Publish(ctx context.Context, ev domain.BoardEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := q.queue.EnqueueMessage(ctx, string(data), nil); err != nil {
		return fmt.Errorf("enqueue board event: %w", err)
	}
	return nil
}

// CreateQueues creates the queues, ignoring ones that already exist.
func CreateQueues(ctx context.Context, connStr string, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, queueClientOptions())
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
				continue
			}
			return fmt.Errorf("create queue %s: %w", name, err)
		}
	}
	return nil
}
