package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
)

func TestStreamPushesRefreshOnNotify(t *testing.T) {
	logger, _ := test.NewNullLogger()
	broker := NewBroker()
	e := echo.New()
	Register(e, &stubStore{}, nil, broker, broker, logger)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/boards/b1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello StreamMessage
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "refresh" || hello.BoardID != "b1" {
		t.Fatalf("unexpected first message %+v", hello)
	}

	deadline := time.Now().Add(time.Second)
	for broker.Subscribers("b1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	broker.Notify(domain.BoardEvent{BoardID: "b1", Version: 9, Type: domain.ListMoved})

	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read refresh: %v", err)
	}
	if msg.Version != 9 || msg.Event != domain.ListMoved {
		t.Fatalf("unexpected refresh %+v", msg)
	}
}
