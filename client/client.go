package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const idempotencyHeader = "Idempotency-Key"

// Client talks to the board API over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	log     *log.Logger
}

// New creates a Client for baseURL. A nil logger uses the logrus standard
// logger.
func New(baseURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		log:     logger,
	}
}

// StatusError is returned for non-2xx responses. It unwraps to the matching
// domain error where one exists.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConcurrencyConflict
	case http.StatusBadRequest:
		return domain.ErrInvalidMove
	}
	return nil
}

func boardPath(boardID string, parts ...string) string {
	p := "/api/boards/" + url.PathEscape(boardID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// FetchSnapshot loads the full board state.
func (c *Client) FetchSnapshot(ctx context.Context, boardID string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := c.do(ctx, http.MethodGet, boardPath(boardID), "", nil, &snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (c *Client) CreateList(ctx context.Context, boardID string, nl domain.NewList) (domain.List, error) {
	var list domain.List
	err := c.do(ctx, http.MethodPost, boardPath(boardID, "lists"), "", nl, &list)
	return list, err
}

func (c *Client) CreateTask(ctx context.Context, boardID string, nt domain.NewTask) (domain.Task, error) {
	var task domain.Task
	err := c.do(ctx, http.MethodPost, boardPath(boardID, "tasks"), "", nt, &task)
	return task, err
}

func (c *Client) DeleteTask(ctx context.Context, boardID, taskID string) error {
	return c.do(ctx, http.MethodDelete, boardPath(boardID, "tasks", taskID), "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, idemKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if resp.Header.Get("Idempotent-Replayed") == "true" {
		c.log.WithFields(log.Fields{"path": path, "key": idemKey}).Debug("write replayed by server")
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

var errEmptyBoardID = errors.New("board id is required")
