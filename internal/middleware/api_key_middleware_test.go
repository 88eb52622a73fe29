package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gas_oracle/internal/logging"
)

func TestCallerMiddleware(t *testing.T) {
	var got *Caller
	handler := CallerMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetCaller(r)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("query parameter", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/gas?apikey=abc&session=s1", nil)
		req.Header.Set("X-Real-IP", "203.0.113.9")
		req.Header.Set("Origin", " https://example.com ")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got.APIKey != "abc" {
			t.Errorf("Expected key abc, got %q", got.APIKey)
		}
		if got.Session != "s1" {
			t.Errorf("Expected session s1, got %q", got.Session)
		}
		if got.IP != "203.0.113.9" {
			t.Errorf("Expected ip 203.0.113.9, got %q", got.IP)
		}
		if got.Origin != "https://example.com" {
			t.Errorf("Unexpected origin %q", got.Origin)
		}
	})

	t.Run("X-API-Key header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/gas", nil)
		req.Header.Set("X-API-Key", "from-header")
		req.Header.Set("X-Session", "s2")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got.APIKey != "from-header" || got.Session != "s2" {
			t.Errorf("Unexpected caller %+v", got)
		}
	})

	t.Run("Bearer token", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/gas", nil)
		req.Header.Set("Authorization", "Bearer from-bearer")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got.APIKey != "from-bearer" {
			t.Errorf("Expected key from-bearer, got %q", got.APIKey)
		}
	})

	t.Run("anonymous", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/gas", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if got.APIKey != "" || got.Session != "" {
			t.Errorf("Expected anonymous caller, got %+v", got)
		}
		if got.IP != "192.0.2.1" {
			t.Errorf("Expected socket address, got %q", got.IP)
		}
	})
}

func TestGetCallerWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest("GET", "/gas?apikey=direct", nil)
	if c := GetCaller(req); c.APIKey != "direct" {
		t.Errorf("Expected key direct, got %q", c.APIKey)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"real ip wins", map[string]string{"X-Real-IP": "10.0.0.1", "X-Forwarded-For": "10.0.0.2"}, "1.2.3.4:5", "10.0.0.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"}, "1.2.3.4:5", "198.51.100.1"},
		{"socket address", nil, "1.2.3.4:5678", "1.2.3.4"},
		{"ipv6 socket", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"no port", nil, "1.2.3.4", "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	called := false
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/gas", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if called {
		t.Error("Preflight reached the handler")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing allow-origin header")
	}

	req = httptest.NewRequest(http.MethodGet, "/gas", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if !called {
		t.Error("GET did not reach the handler")
	}
}

func TestRecover(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("dial tcp 10.0.0.5:5432: secret-dsn-part")
	}), Recover(logging.NewNopLogger()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["message"] != "Unexpected server error." {
		t.Errorf("Unexpected message %v", body["message"])
	}
	if _, ok := body["serverMessage"]; ok {
		t.Errorf("Panic details leaked in serverMessage: %v", body["serverMessage"])
	}
	if strings.Contains(w.Body.String(), "secret-dsn-part") {
		t.Errorf("Panic value leaked in body: %s", w.Body.String())
	}
}

func TestRecoverRethrowsAbort(t *testing.T) {
	handler := Recover(logging.NewNopLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("Expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mark("a"), mark("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("Unexpected order %v", order)
	}
}
