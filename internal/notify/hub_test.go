package notify

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"golang.org/x/net/websocket"

	"github.com/kalambet/adgen/internal/session"
)

type mockConn struct {
	mu      sync.Mutex
	events  []Event
	sendErr error
	closed  bool
}

func (m *mockConn) Send(ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestHub_DeliversToAttached(t *testing.T) {
	h := NewHub()
	c := &mockConn{}
	h.Attach("s1", c)

	h.Notify("s1", StageStarted(session.StepExtraction, "extracting"))
	h.Notify("s2", StageStarted(session.StepExtraction, "other session"))

	if len(c.events) != 1 {
		t.Fatalf("events = %d, want 1", len(c.events))
	}
	if c.events[0].Step != session.StepExtraction {
		t.Errorf("Step = %q, want %q", c.events[0].Step, session.StepExtraction)
	}
}

func TestHub_NoReplay(t *testing.T) {
	h := NewHub()
	h.Notify("s1", StageStarted(session.StepExtraction, "missed"))

	c := &mockConn{}
	h.Attach("s1", c)
	if len(c.events) != 0 {
		t.Errorf("late subscriber received %d past events", len(c.events))
	}
}

func TestHub_LastWriterWins(t *testing.T) {
	h := NewHub()
	first := &mockConn{}
	second := &mockConn{}
	h.Attach("s1", first)
	h.Attach("s1", second)

	if !first.closed {
		t.Error("replaced connection not closed")
	}

	h.Notify("s1", Failed("boom"))
	if len(first.events) != 0 {
		t.Error("replaced connection still receives events")
	}
	if len(second.events) != 1 {
		t.Errorf("current connection events = %d, want 1", len(second.events))
	}

	// A stale detach must not remove the current connection.
	h.Detach("s1", first)
	if !h.Connected("s1") {
		t.Error("stale Detach removed current connection")
	}
}

func TestHub_SendFailureDropsConnection(t *testing.T) {
	h := NewHub()
	c := &mockConn{sendErr: errors.New("broken pipe")}
	h.Attach("s1", c)

	h.Notify("s1", Failed("boom"))
	if h.Connected("s1") {
		t.Error("connection kept after failed send")
	}
	if !c.closed {
		t.Error("failed connection not closed")
	}
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	c := &mockConn{}
	h.Attach("s1", c)
	h.Close("s1")
	if !c.closed || h.Connected("s1") {
		t.Error("Close did not close and forget the connection")
	}
}

func TestEvent_VariantFields(t *testing.T) {
	data, _ := json.Marshal(StageStarted(session.StepMarketResearch, "researching"))
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["script"]; ok {
		t.Error("stage_started carries script")
	}
	if _, ok := m["video_url"]; ok {
		t.Error("stage_started carries video_url")
	}
	if m["type"] != "stage_started" || m["status"] != "processing" || m["step"] != "market_research" {
		t.Errorf("unexpected event JSON: %s", data)
	}

	data, _ = json.Marshal(AwaitingFeedback(&session.Script{AudioScript: "hi", VideoScript: "spin"}, "review"))
	if !strings.Contains(string(data), `"script":{"audio_script":"hi","video_script":"spin"}`) {
		t.Errorf("awaiting_feedback JSON = %s", data)
	}

	data, _ = json.Marshal(Completed("https://cdn/v.mp4", false, "done"))
	if !strings.Contains(string(data), `"video_url":"https://cdn/v.mp4"`) || !strings.Contains(string(data), `"status":"completed"`) {
		t.Errorf("completed JSON = %s", data)
	}
}

func TestMulti(t *testing.T) {
	h1, h2 := NewHub(), NewHub()
	c1, c2 := &mockConn{}, &mockConn{}
	h1.Attach("s", c1)
	h2.Attach("s", c2)

	Multi{h1, nil, h2}.Notify("s", Failed("x"))
	if len(c1.events) != 1 || len(c2.events) != 1 {
		t.Errorf("fan-out events = %d/%d, want 1/1", len(c1.events), len(c2.events))
	}
}

func TestServeSession_Websocket(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h.ServeSession("s1"))
	t.Cleanup(srv.Close)

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", "", "http://localhost/")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !h.Connected("s1") {
		if time.Now().After(deadline) {
			t.Fatal("connection never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Notify("s1", Completed("https://cdn/v.mp4", false, "done"))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := websocket.JSON.Receive(ws, &got); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Kind != KindCompleted || got.VideoURL != "https://cdn/v.mp4" {
		t.Errorf("event = %+v", got)
	}
}

func TestServeSession_StalledPeerIsDropped(t *testing.T) {
	defer func(d time.Duration) { writeTimeout = d }(writeTimeout)
	writeTimeout = 50 * time.Millisecond

	h := NewHub()
	srv := httptest.NewServer(h.ServeSession("s1"))
	t.Cleanup(srv.Close)

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", "", "http://localhost/")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !h.Connected("s1") {
		if time.Now().After(deadline) {
			t.Fatal("connection never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The client never reads, so socket buffers fill and writes start to block.
	big := strings.Repeat("x", 1<<20)
	deadline = time.Now().Add(10 * time.Second)
	for h.Connected("s1") {
		if time.Now().After(deadline) {
			t.Fatal("stalled connection was never dropped")
		}
		start := time.Now()
		h.Notify("s1", Failed(big))
		if took := time.Since(start); took > 2*time.Second {
			t.Fatalf("Notify blocked for %s", took)
		}
	}
}

type mockAMQP struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
}

func (m *mockAMQP) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	m.exchange, m.key, m.msg = exchange, key, msg
	return m.err
}

func TestAMQPMirror_Notify(t *testing.T) {
	ch := &mockAMQP{}
	m := newAMQPMirror(ch, "adgen.events")
	m.Notify("s1", StageStarted(session.StepExtraction, "extracting"))

	if ch.exchange != "adgen.events" || ch.key != "s1" {
		t.Errorf("published to %q/%q", ch.exchange, ch.key)
	}
	if ch.msg.Type != "stage_started" {
		t.Errorf("Type = %q, want stage_started", ch.msg.Type)
	}
	var body map[string]any
	if err := json.Unmarshal(ch.msg.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["session_id"] != "s1" || body["step"] != "extraction" {
		t.Errorf("body = %v", body)
	}

	// Failures are swallowed.
	ch.err = errors.New("channel closed")
	m.Notify("s1", Failed("x"))
}
