package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/adgen/internal/pipeline"
	"github.com/kalambet/adgen/internal/session"
)

// --- fakes ---

type fakeService struct {
	startFn    func(req pipeline.StartRequest) (session.Session, error)
	getFn      func(id string) (session.Session, error)
	feedbackFn func(id, feedback string) (session.Session, error)
	deleteFn   func(id string) error
	listFn     func(limit int) ([]session.Session, error)
	running    int

	gotLimit    int
	gotFeedback string
}

func (f *fakeService) Start(req pipeline.StartRequest) (session.Session, error) {
	if f.startFn == nil {
		return session.Session{ID: "s-1", Status: session.StatusStarted}, nil
	}
	return f.startFn(req)
}

func (f *fakeService) Get(id string) (session.Session, error) {
	if f.getFn == nil {
		return session.Session{}, session.ErrNotFound
	}
	return f.getFn(id)
}

func (f *fakeService) SubmitFeedback(id, feedback string) (session.Session, error) {
	f.gotFeedback = feedback
	if f.feedbackFn == nil {
		return session.Session{ID: id, Status: session.StatusProcessing, Step: session.StepScriptRevision}, nil
	}
	return f.feedbackFn(id, feedback)
}

func (f *fakeService) Delete(id string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(id)
}

func (f *fakeService) List(limit int) ([]session.Session, error) {
	f.gotLimit = limit
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(limit)
}

func (f *fakeService) Running() int { return f.running }

type fakeChannels struct {
	served string
}

func (f *fakeChannels) ServeSession(id string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.served = id
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
}

type fakeStats map[session.Status]int

func (f fakeStats) CountByStatus() (map[session.Status]int, error) { return f, nil }

// --- helpers ---

func newTestHandler(svc *fakeService, token string) (http.Handler, *fakeChannels) {
	ch := &fakeChannels{}
	return NewHandler(Deps{
		Service:  svc,
		Channels: ch,
		Stats:    fakeStats{session.StatusCompleted: 2},
		Token:    token,
		Version:  "test",
	}), ch
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

// --- tests ---

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(&fakeService{}, "secret")

	rr := do(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("body = %v, want status=ok", body)
	}
}

func TestWebStatus(t *testing.T) {
	h, _ := newTestHandler(&fakeService{running: 3}, "")

	rr := do(t, h, http.MethodGet, "/api/web-status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Status   string         `json:"status"`
		Version  string         `json:"version"`
		Running  int            `json:"running"`
		Sessions map[string]int `json:"sessions"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Version != "test" || body.Running != 3 {
		t.Errorf("body = %+v", body)
	}
	if body.Sessions["completed"] != 2 {
		t.Errorf("sessions = %v, want completed=2", body.Sessions)
	}
}

func TestStartGeneration(t *testing.T) {
	var got pipeline.StartRequest
	svc := &fakeService{startFn: func(req pipeline.StartRequest) (session.Session, error) {
		got = req
		return session.Session{ID: "abc", Status: session.StatusStarted}, nil
	}}
	h, _ := newTestHandler(svc, "")

	rr := do(t, h, http.MethodPost, "/api/start-generation", `{"product_url":"https://shop.test/p","width":720,"height":1280}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp GenerationResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "abc" || resp.Status != session.StatusStarted || resp.Message == "" {
		t.Errorf("response = %+v", resp)
	}
	if got.ProductURL != "https://shop.test/p" || got.Width != 720 || got.Height != 1280 {
		t.Errorf("request = %+v", got)
	}
}

func TestStartGeneration_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantType string
	}{
		{"malformed body", `{"product_url":`, nil, http.StatusBadRequest, "invalid_request_error"},
		{"invalid input", `{"product_url":"ftp://x"}`, fmt.Errorf("%w: bad url", pipeline.ErrInvalidInput), http.StatusBadRequest, "invalid_request_error"},
		{"shutting down", `{"product_url":"https://x.test"}`, fmt.Errorf("scheduling session: %w", pipeline.ErrShuttingDown), http.StatusServiceUnavailable, "unavailable"},
		{"unexpected", `{"product_url":"https://x.test"}`, errors.New("boom"), http.StatusInternalServerError, "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{startFn: func(pipeline.StartRequest) (session.Session, error) {
				return session.Session{}, tt.err
			}}
			h, _ := newTestHandler(svc, "")

			rr := do(t, h, http.MethodPost, "/api/start-generation", tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	svc := &fakeService{getFn: func(id string) (session.Session, error) {
		if id != "abc" {
			return session.Session{}, session.ErrNotFound
		}
		return session.Session{
			ID:        "abc",
			Status:    session.StatusProcessing,
			Step:      session.StepMarketResearch,
			UpdatedAt: time.Now(),
		}, nil
	}}
	h, _ := newTestHandler(svc, "")

	rr := do(t, h, http.MethodGet, "/api/session/abc", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp GenerationResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message != "Current step: market_research" {
		t.Errorf("message = %q", resp.Message)
	}
	if resp.Data == nil || resp.Data.Step != session.StepMarketResearch {
		t.Errorf("data = %+v", resp.Data)
	}

	rr = do(t, h, http.MethodGet, "/api/session/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", rr.Code)
	}
	if got := errorType(t, rr); got != "not_found" {
		t.Errorf("error type = %q", got)
	}
}

func TestScriptFeedback(t *testing.T) {
	svc := &fakeService{}
	h, _ := newTestHandler(svc, "")

	rr := do(t, h, http.MethodPost, "/api/script-feedback", `{"session_id":"abc","feedback":"shorter please"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body)
	}
	var resp GenerationResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.SessionID != "abc" || resp.Status != session.StatusProcessing {
		t.Errorf("response = %+v", resp)
	}
	if svc.gotFeedback != "shorter please" {
		t.Errorf("feedback = %q", svc.gotFeedback)
	}
}

func TestScriptFeedback_NotAwaiting(t *testing.T) {
	svc := &fakeService{feedbackFn: func(id, fb string) (session.Session, error) {
		return session.Session{ID: id, Status: session.StatusProcessing}, fmt.Errorf("%w (status processing)", session.ErrNotAwaitingFeedback)
	}}
	h, _ := newTestHandler(svc, "")

	rr := do(t, h, http.MethodPost, "/api/script-feedback", `{"session_id":"abc","feedback":"x"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if got := errorType(t, rr); got != "invalid_state" {
		t.Errorf("error type = %q", got)
	}
}

func TestScriptFeedback_MissingSessionID(t *testing.T) {
	h, _ := newTestHandler(&fakeService{}, "")

	rr := do(t, h, http.MethodPost, "/api/script-feedback", `{"feedback":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	var deleted string
	svc := &fakeService{deleteFn: func(id string) error {
		if id == "missing" {
			return session.ErrNotFound
		}
		deleted = id
		return nil
	}}
	h, _ := newTestHandler(svc, "")

	if rr := do(t, h, http.MethodDelete, "/api/session/abc", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if deleted != "abc" {
		t.Errorf("deleted = %q", deleted)
	}
	if rr := do(t, h, http.MethodDelete, "/api/session/missing", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestListSessions(t *testing.T) {
	svc := &fakeService{listFn: func(limit int) ([]session.Session, error) {
		return []session.Session{{ID: "b"}, {ID: "a"}}, nil
	}}
	h, _ := newTestHandler(svc, "")

	rr := do(t, h, http.MethodGet, "/api/sessions?limit=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Sessions []session.Session `json:"sessions"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if len(body.Sessions) != 2 || body.Sessions[0].ID != "b" {
		t.Errorf("sessions = %+v", body.Sessions)
	}
	if svc.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", svc.gotLimit)
	}

	if rr := do(t, h, http.MethodGet, "/api/sessions?limit=abc", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}
}

func TestListSessions_EmptyIsArray(t *testing.T) {
	h, _ := newTestHandler(&fakeService{}, "")

	rr := do(t, h, http.MethodGet, "/api/sessions", "")
	if !strings.Contains(rr.Body.String(), `"sessions":[]`) {
		t.Errorf("body = %s, want empty array", rr.Body)
	}
}

func TestChannelRoute(t *testing.T) {
	h, ch := newTestHandler(&fakeService{}, "")

	do(t, h, http.MethodGet, "/ws/abc", "")
	if ch.served != "abc" {
		t.Errorf("served session = %q, want abc", ch.served)
	}
}

func TestBearerAuth(t *testing.T) {
	h, ch := newTestHandler(&fakeService{}, "secret")

	rr := do(t, h, http.MethodGet, "/api/sessions", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rr.Code)
	}
	if got := errorType(t, rr); got != "authentication_error" {
		t.Errorf("error type = %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rr.Code)
	}

	if rr := do(t, h, http.MethodGet, "/ws/abc", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("websocket without token status = %d, want 401", rr.Code)
	}
	do(t, h, http.MethodGet, "/ws/abc?access_token=secret", "")
	if ch.served != "abc" {
		t.Errorf("websocket with query token not served")
	}
}

func TestCORS(t *testing.T) {
	h, _ := newTestHandler(&fakeService{}, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("missing Access-Control-Allow-Origin header")
	}
}
