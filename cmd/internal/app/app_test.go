package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_InMemoryMode(t *testing.T) {
	a, err := New(Config{LogLevel: "error"}, testLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if a.dbEnabled {
		t.Fatalf("expected in-memory mode without a database URL")
	}
	if a.api == nil {
		t.Fatalf("expected api handler to be wired")
	}
}

func TestReadyz(t *testing.T) {
	cases := []struct {
		name      string
		requireDB bool
		want      int
	}{
		{name: "db optional", requireDB: false, want: http.StatusOK},
		{name: "db required but absent", requireDB: true, want: http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			registerHTTP(mux, testLogger(), Config{ReadinessRequireDB: tc.requireDB}, nil, false, nil)

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rr.Code != tc.want {
				t.Fatalf("readyz: status %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	mux := http.NewServeMux()
	registerHTTP(mux, testLogger(), Config{}, nil, false, nil)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rr.Code)
	}
}
