package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	maxBodySize       = 1 << 20
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	boardRoute         = "/api/boards/:boardID"
	taskPositionsRoute = "/api/boards/:boardID/tasks/positions"
	listPositionRoute  = "/api/boards/:boardID/lists/:listID/position"
)

type handlers struct {
	store   Storage
	deduper Deduper
	events  Publisher
	broker  *Broker
	log     *log.Logger
}

// Register wires up all API routes on the provided Echo instance. deduper,
// events and broker may be nil.
func Register(e *echo.Echo, store Storage, deduper Deduper, events Publisher, broker *Broker, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{store: store, deduper: deduper, events: events, broker: broker, log: logger}

	e.Use(GzipRequestMiddleware(maxBodySize))
	e.GET("/healthz", h.healthz)
	e.GET(boardRoute, h.getBoard)
	e.POST(taskPositionsRoute, h.postTaskPositions)
	e.PUT(listPositionRoute, h.putListPosition)
	e.POST("/api/boards/:boardID/lists", h.postList)
	e.POST("/api/boards/:boardID/tasks", h.postTask)
	e.DELETE("/api/boards/:boardID/tasks/:taskID", h.deleteTask)
	if broker != nil {
		e.GET("/api/boards/:boardID/stream", h.stream)
	}
}

func (h *handlers) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check failed")
		return c.String(http.StatusServiceUnavailable, "storage unavailable")
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) getBoard(c echo.Context) (err error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.log, boardRoute, "board.fetch")
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() { metrics.Log(c.Response().Status, err) }()

	start := time.Now()
	snap, fetchErr := h.store.FetchBoard(ctx, c.Param("boardID"))
	metrics.ObserveStore(time.Since(start))
	if fetchErr != nil {
		return h.storeFailure(c, metrics, fetchErr)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *handlers) postTaskPositions(c echo.Context) (err error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.log, taskPositionsRoute, "board.task_positions")
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() { metrics.Log(c.Response().Status, err) }()

	boardID := c.Param("boardID")
	changes := make([]domain.TaskPositionChange, 0, 4)
	decodeStart := time.Now()
	if decErr := decodeBody(c, &changes); decErr != nil {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	metrics.ObserveDecode(time.Since(decodeStart))
	metrics.SetChanges(len(changes))
	for _, ch := range changes {
		if ch.TaskID == "" || ch.NewListID == "" || ch.NewPosition < 0 {
			metrics.SetErrorStage("validate")
			return c.String(http.StatusBadRequest, "invalid change")
		}
	}
	if len(changes) == 0 {
		return c.NoContent(http.StatusNoContent)
	}

	key, replay := h.claim(c, boardID)
	if replay {
		metrics.SetReplayed(true)
		c.Response().Header().Set(replayedHeader, "true")
		return c.NoContent(http.StatusNoContent)
	}

	start := time.Now()
	version, storeErr := h.store.UpdateTaskPositions(ctx, boardID, changes)
	metrics.ObserveStore(time.Since(start))
	if storeErr != nil {
		h.release(ctx, boardID, key)
		return h.storeFailure(c, metrics, storeErr)
	}

	entityID := ""
	if len(changes) == 1 {
		entityID = changes[0].TaskID
	}
	h.publish(ctx, boardID, domain.TaskMoved, entityID, version)
	return c.NoContent(http.StatusNoContent)
}

type listPositionRequest struct {
	NewPosition int `json:"newPosition"`
}

func (h *handlers) putListPosition(c echo.Context) (err error) {
	metrics, ctx := newRequestMetrics(c.Request().Context(), h.log, listPositionRoute, "board.list_position")
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() { metrics.Log(c.Response().Status, err) }()

	boardID, listID := c.Param("boardID"), c.Param("listID")
	var body listPositionRequest
	decodeStart := time.Now()
	if decErr := decodeBody(c, &body); decErr != nil || body.NewPosition < 0 {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	metrics.ObserveDecode(time.Since(decodeStart))
	metrics.SetChanges(1)

	key, replay := h.claim(c, boardID)
	if replay {
		metrics.SetReplayed(true)
		c.Response().Header().Set(replayedHeader, "true")
		return c.NoContent(http.StatusNoContent)
	}

	start := time.Now()
	version, storeErr := h.store.MoveList(ctx, boardID, listID, body.NewPosition)
	metrics.ObserveStore(time.Since(start))
	if storeErr != nil {
		h.release(ctx, boardID, key)
		return h.storeFailure(c, metrics, storeErr)
	}
	h.publish(ctx, boardID, domain.ListMoved, listID, version)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) postList(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardID")
	var body domain.NewList
	if err := decodeBody(c, &body); err != nil || strings.TrimSpace(body.Name) == "" {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	list, version, err := h.store.CreateList(ctx, boardID, body)
	if err != nil {
		return h.plainFailure(c, err)
	}
	h.publish(ctx, boardID, domain.ListCreated, list.ID, version)
	return c.JSON(http.StatusCreated, list)
}

func (h *handlers) postTask(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := c.Param("boardID")
	var body domain.NewTask
	if err := decodeBody(c, &body); err != nil || body.ListID == "" || strings.TrimSpace(body.Title) == "" {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	task, version, err := h.store.CreateTask(ctx, boardID, body)
	if err != nil {
		return h.plainFailure(c, err)
	}
	h.publish(ctx, boardID, domain.TaskCreated, task.ID, version)
	return c.JSON(http.StatusCreated, task)
}

func (h *handlers) deleteTask(c echo.Context) error {
	ctx := c.Request().Context()
	boardID, taskID := c.Param("boardID"), c.Param("taskID")
	version, err := h.store.DeleteTask(ctx, boardID, taskID)
	if err != nil {
		return h.plainFailure(c, err)
	}
	h.publish(ctx, boardID, domain.TaskDeleted, taskID, version)
	return c.NoContent(http.StatusNoContent)
}

// claim records the request's idempotency key. replay is true when the key
// was seen before. Dedupe errors are logged and the write proceeds.
func (h *handlers) claim(c echo.Context, boardID string) (key string, replay bool) {
	key = strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
	if key == "" || h.deduper == nil {
		return "", false
	}
	added, err := h.deduper.Add(c.Request().Context(), boardID, key)
	if err != nil {
		h.log.WithError(err).WithField("boardId", boardID).Warn("idempotency check failed")
		return "", false
	}
	return key, !added
}

func (h *handlers) release(ctx context.Context, boardID, key string) {
	if key == "" || h.deduper == nil {
		return
	}
	if err := h.deduper.Remove(context.WithoutCancel(ctx), boardID, key); err != nil {
		h.log.WithError(err).WithFields(log.Fields{"boardId": boardID, "key": key}).Error("dedupe rollback failed")
	}
}

func (h *handlers) publish(ctx context.Context, boardID, typ, entityID string, version int64) {
	if h.events == nil {
		return
	}
	ev := domain.BoardEvent{
		ID:       uuid.NewString(),
		BoardID:  boardID,
		Type:     typ,
		EntityID: entityID,
		Version:  version,
		Time:     nextTimestamp(),
	}
	if err := h.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		h.log.WithError(err).WithFields(log.Fields{"boardId": boardID, "type": typ}).Error("publish board event")
	}
}

func (h *handlers) storeFailure(c echo.Context, metrics *requestMetrics, err error) error {
	status := statusForError(err)
	metrics.SetErrorStage(errorStage(status))
	return h.plainFailure(c, err)
}

func (h *handlers) plainFailure(c echo.Context, err error) error {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.Path()).Error("storage failure")
		return c.String(status, "internal error")
	}
	return c.String(status, err.Error())
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
