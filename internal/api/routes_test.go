package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicerelay/adapters"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/internal/auth"
	"github.com/satriahrh/voicerelay/internal/websocket"
	"github.com/satriahrh/voicerelay/usecase"
)

func newTestServer(t *testing.T, deps Dependencies) *echo.Echo {
	t.Helper()
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub(websocket.HubConfig{
			ValidateCredentials: func() error { return errors.New("no credentials") },
		}, zap.NewNop())
	}
	e := echo.New()
	InitRoutes(e, deps, zaptest.NewLogger(t))
	return e
}

func TestHealth(t *testing.T) {
	e := newTestServer(t, Dependencies{
		APIs: func() map[string]bool {
			return map[string]bool{"assembly_ai": true, "murf": false}
		},
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body.Status != "healthy" || body.Service != "Voice Agent" {
		t.Errorf("body = %+v", body)
	}
	if !body.APIs["assembly_ai"] || body.APIs["murf"] {
		t.Errorf("apis = %v", body.APIs)
	}
}

func TestHistory(t *testing.T) {
	repo := adapters.NewMemoryTranscriptRepository()
	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"hi", "hello!", "weather?", "sunny"} {
		role := entities.MessageRoleUser
		if i%2 == 1 {
			role = entities.MessageRoleAssistant
		}
		err := repo.Append(context.Background(), entities.TranscriptEntry{
			SessionID: "s1",
			Role:      role,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	history := usecase.NewHistoryService(repo, 0, zap.NewNop())
	e := newTestServer(t, Dependencies{History: history})

	tests := []struct {
		name        string
		target      string
		wantStatus  int
		wantContent []string
	}{
		{name: "default limit", target: "/api/history/s1", wantStatus: http.StatusOK, wantContent: []string{"sunny", "weather?", "hello!", "hi"}},
		{name: "limited", target: "/api/history/s1?limit=2", wantStatus: http.StatusOK, wantContent: []string{"sunny", "weather?"}},
		{name: "unknown session", target: "/api/history/nope", wantStatus: http.StatusOK, wantContent: []string{}},
		{name: "bad limit", target: "/api/history/s1?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "negative limit", target: "/api/history/s1?limit=-1", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body HistoryResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if body.Status != "success" {
				t.Errorf("status = %q, want success", body.Status)
			}
			if body.History == nil {
				t.Fatal("history should be an array, not null")
			}
			if len(body.History) != len(tt.wantContent) {
				t.Fatalf("history = %d entries, want %d", len(body.History), len(tt.wantContent))
			}
			for i, want := range tt.wantContent {
				if body.History[i].Content != want {
					t.Errorf("history[%d] = %q, want %q", i, body.History[i].Content, want)
				}
			}
		})
	}
}

func TestHistory_NoStore(t *testing.T) {
	e := newTestServer(t, Dependencies{History: usecase.NewHistoryService(nil, 0, zap.NewNop())})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/s1", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type failingHistory struct{}

func (failingHistory) Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error) {
	return nil, errors.New("connection refused")
}

func TestHistory_StoreFailure(t *testing.T) {
	e := newTestServer(t, Dependencies{History: failingHistory{}})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/s1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("raw store error leaked: %s", rec.Body.String())
	}
}

func TestWebSocketAuth(t *testing.T) {
	signer := auth.NewSigner("test-secret", time.Hour)
	srv := httptest.NewServer(newTestServer(t, Dependencies{Signer: signer}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	valid, err := signer.GenerateSessionToken("client-1")
	if err != nil {
		t.Fatalf("GenerateSessionToken() error = %v", err)
	}
	forged, _ := auth.NewSigner("other-secret", time.Hour).GenerateSessionToken("client-1")

	t.Run("missing token", func(t *testing.T) {
		_, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
		if err == nil {
			t.Fatal("Dial() should fail without a token")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	t.Run("forged token", func(t *testing.T) {
		_, resp, err := gorillaws.DefaultDialer.Dial(wsURL+"?token="+forged, nil)
		if err == nil {
			t.Fatal("Dial() should fail with a forged token")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	for name, dial := range map[string]func() (*gorillaws.Conn, *http.Response, error){
		"query token": func() (*gorillaws.Conn, *http.Response, error) {
			return gorillaws.DefaultDialer.Dial(wsURL+"?token="+valid, nil)
		},
		"bearer header": func() (*gorillaws.Conn, *http.Response, error) {
			return gorillaws.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer " + valid}})
		},
	} {
		t.Run(name, func(t *testing.T) {
			conn, _, err := dial()
			if err != nil {
				t.Fatalf("Dial() error = %v", err)
			}
			defer conn.Close()

			// The hub under test has no credentials, so an accepted
			// connection is closed with a policy violation.
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, _, err = conn.ReadMessage()
			if !gorillaws.IsCloseError(err, gorillaws.ClosePolicyViolation) {
				t.Errorf("ReadMessage() error = %v, want close 1008", err)
			}
		})
	}
}
