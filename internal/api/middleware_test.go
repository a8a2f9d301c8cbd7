package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestRecovery(t *testing.T) {
	tests := []struct {
		name  string
		panic any
	}{
		{"error", http.ErrAbortHandler},
		{"string", "queue worker exploded"},
		{"int", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logBuf, nil))

			handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(tt.panic)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("POST", "/jobs", nil))

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", w.Code)
			}
			var resp APIError
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp.Code != ErrCodeServerError {
				t.Errorf("expected code %s, got %s", ErrCodeServerError, resp.Code)
			}
			for _, field := range []string{"panic recovered", "path=/jobs", "stack="} {
				if !strings.Contains(logBuf.String(), field) {
					t.Errorf("expected log to contain %q, got: %s", field, logBuf.String())
				}
			}
		})
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("expected 200 OK, got %d %q", w.Code, w.Body.String())
	}
}

func TestRecovery_IncludesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := middleware.RequestID(Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest("GET", "/jobs", nil)
	req.Header.Set("X-Request-Id", "req-7")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var resp APIError
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.RequestID != "req-7" {
		t.Errorf("expected request_id req-7, got %q", resp.RequestID)
	}
}

func TestContentTypeJSON(t *testing.T) {
	tests := []struct {
		name     string
		override string
		want     string
	}{
		{"default", "", "application/json"},
		{"overridden", "application/geo+json", "application/geo+json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.override != "" {
					w.Header().Set("Content-Type", tt.override)
				}
				w.WriteHeader(http.StatusOK)
			}))

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/jobs/x/item", nil))

			if got := w.Header().Get("Content-Type"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   []string
	}{
		{
			name:   "accepted",
			status: http.StatusAccepted,
			want:   []string{"http request", "level=INFO", "method=POST", "path=/jobs", "status=202", "duration=", "user_agent=ifm-client", "request_id="},
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			want:   []string{"level=INFO", "status=404"},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			want:   []string{"level=ERROR", "status=500"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logBuf, nil))

			handler := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})))

			req := httptest.NewRequest("POST", "/jobs?dry=1", nil)
			req.Header.Set("User-Agent", "ifm-client")
			handler.ServeHTTP(httptest.NewRecorder(), req)

			for _, field := range tt.want {
				if !strings.Contains(logBuf.String(), field) {
					t.Errorf("expected log to contain %q, got: %s", field, logBuf.String())
				}
			}
		})
	}
}

func TestRequestIDResponse(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"generated", ""},
		{"propagated", "custom-request-id-123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.RequestID(RequestIDResponse(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})))

			req := httptest.NewRequest("GET", "/jobs", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-Id", tt.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatal("expected X-Request-ID header")
			}
			if tt.incoming != "" && got != tt.incoming {
				t.Errorf("expected %s, got %s", tt.incoming, got)
			}
		})
	}
}

func TestGetRequestID(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("expected empty request ID, got %s", got)
	}

	ctx := context.WithValue(context.Background(), requestIDKey{}, "own-id")
	if got := GetRequestID(ctx); got != "own-id" {
		t.Errorf("expected own-id, got %s", got)
	}

	var captured string
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = GetRequestID(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if captured == "" {
		t.Error("expected chi request ID to be visible")
	}
}

func TestLimitBody(t *testing.T) {
	handler := LimitBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		body string
		want int
	}{
		{"short", http.StatusOK},
		{"much longer than eight bytes", http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("POST", "/jobs", strings.NewReader(tt.body)))
		if w.Code != tt.want {
			t.Errorf("body %q: expected %d, got %d", tt.body, tt.want, w.Code)
		}
	}
}
