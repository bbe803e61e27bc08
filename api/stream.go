package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StreamMessage is pushed to websocket clients. Type is "refresh" whenever
// the board changed; clients refetch the snapshot.
type StreamMessage struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Version int64  `json:"version,omitempty"`
	Event   string `json:"event,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (h *handlers) stream(c echo.Context) error {
	boardID := c.Param("boardID")
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	ch := h.broker.subscribe(boardID)
	defer h.broker.unsubscribe(boardID, ch)

	logger := h.log.WithField("boardId", boardID)
	logger.Debug("stream connected")

	// reads only drive pong handling and close detection
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeMessage(conn, StreamMessage{Type: "refresh", BoardID: boardID}); err != nil {
		return nil
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			logger.Debug("stream closed by client")
			return nil
		case <-c.Request().Context().Done():
			return nil
		case ev := <-ch:
			msg := StreamMessage{Type: "refresh", BoardID: boardID, Version: ev.Version, Event: ev.Type}
			if err := writeMessage(conn, msg); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return nil
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}
