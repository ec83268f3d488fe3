package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/finchat/internal/chat"
	"github.com/kalambet/finchat/internal/proxy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockUpstream starts a fake chat backend and returns a gateway in front of it.
func mockUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, http.Handler, *HealthCache) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cache := NewHealthCache(DefaultHealthCacheTTL)
	h := NewGatewayHandler(Deps{
		Upstream: proxy.NewClient(proxy.Target{Environment: "development", BaseURL: srv.URL, APIKey: "dev-key"}),
		Cache:    cache,
		Logger:   quietLogger(),
	})
	return srv, h, cache
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return body
}

func TestChat_RoundTripPreservesMessages(t *testing.T) {
	sent := []chat.Message{
		chat.Greeting(),
		chat.UserMessage("Show me Volvo's Q2 2024 income statement"),
		{
			Role:    chat.RoleAssistant,
			Content: "Here it is.",
			Images:  []chat.Image{{Base64: "iVBORw0KGgo=", Caption: "Volvo Q2 2024, page 7"}},
		},
		chat.UserMessage("And the cash flow?"),
	}
	reply := chat.Message{
		Role:    chat.RoleAssistant,
		Content: "Operating cash flow was SEK 9.6bn.",
		Images:  []chat.Image{{Base64: "AAAA", Caption: "Volvo Q2 2024, page 9"}},
	}

	var received []chat.Message
	_, h, _ := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer dev-key" {
			t.Errorf("Authorization = %q, want bearer credential", got)
		}
		var req struct {
			Messages []chat.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("upstream decode: %v", err)
		}
		received = req.Messages
		json.NewEncoder(w).Encode(reply)
	})

	payload, _ := json.Marshal(map[string]any{"messages": sent})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rr.Code, rr.Body.String())
	}
	if !reflect.DeepEqual(received, sent) {
		t.Errorf("upstream received %+v, want %+v", received, sent)
	}

	var got chat.Message
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if !reflect.DeepEqual(got, reply) {
		t.Errorf("reply = %+v, want %+v", got, reply)
	}
}

func TestChat_MissingConfig(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	targets := map[string]proxy.Target{
		"no url":     {Environment: "production", APIKey: "prod-key"},
		"no key":     {Environment: "production", BaseURL: srv.URL},
		"no url/key": {Environment: "development"},
	}
	bodies := []string{`{"messages":[{"role":"user","content":"hi"}]}`, ``, `not json`}

	for name, target := range targets {
		for _, body := range bodies {
			t.Run(name, func(t *testing.T) {
				h := NewGatewayHandler(Deps{Upstream: proxy.NewClient(target), Logger: quietLogger()})
				rr := httptest.NewRecorder()
				h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

				if rr.Code != http.StatusInternalServerError {
					t.Fatalf("status = %d, want 500", rr.Code)
				}
				msg, _ := decodeBody(t, rr)["error"].(string)
				if msg == "" {
					t.Error("expected non-empty error message")
				}
				if strings.Contains(msg, "prod-key") {
					t.Errorf("error message leaks the credential: %q", msg)
				}
			})
		}
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("upstream called %d times, want 0", n)
	}
}

func TestChat_UpstreamFailures(t *testing.T) {
	_, h, _ := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[]}`)))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "backend responded with status: 502" {
		t.Errorf("error = %v", got)
	}
}

func TestChat_UpstreamUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	h := NewGatewayHandler(Deps{
		Upstream: proxy.NewClient(proxy.Target{BaseURL: url, APIKey: "k"}),
		Logger:   quietLogger(),
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`)))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := decodeBody(t, rr)["error"]; got != "failed to process chat request" {
		t.Errorf("error = %v", got)
	}
}

func TestChat_InvalidBody(t *testing.T) {
	var calls atomic.Int32
	_, h, _ := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":`)))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if calls.Load() != 0 {
		t.Error("invalid body must not reach the backend")
	}
}

func TestHealth_CachesSuccessfulResponse(t *testing.T) {
	var calls atomic.Int32
	_, h, cache := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"status":"healthy","n":%d}`, n)
	})

	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	get := func() string {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rr.Code)
		}
		return rr.Body.String()
	}

	first := get()
	now = now.Add(4 * time.Minute)
	if second := get(); second != first {
		t.Errorf("cached body = %s, want %s", second, first)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}

	now = now.Add(time.Minute)
	if third := get(); third == first {
		t.Error("expected a fresh response after the TTL expired")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

func TestHealth_FailureIsNotCached(t *testing.T) {
	var healthy atomic.Bool
	_, h, _ := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"status":"healthy"}`)
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got := decodeBody(t, rr)["status"]; got != "error" {
		t.Errorf("status field = %v, want error", got)
	}

	healthy.Store(true)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 once the backend recovers", rr.Code)
	}
}

func TestHealth_MissingURL(t *testing.T) {
	h := NewGatewayHandler(Deps{Upstream: proxy.NewClient(proxy.Target{}), Logger: quietLogger()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}

func TestHealth_ConcurrentMissesShareOneCall(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	_, h, _ := mockUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		fmt.Fprint(w, `{"status":"healthy"}`)
	})

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			codes[i] = rr.Code
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, c := range codes {
		if c != http.StatusOK {
			t.Errorf("request %d: status = %d", i, c)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestPreflight(t *testing.T) {
	h := NewGatewayHandler(Deps{
		Upstream:       proxy.NewClient(proxy.Target{}),
		AllowedOrigins: []string{"http://localhost:3000"},
		Logger:         quietLogger(),
	})

	for _, path := range []string{"/api/health", "/api/chat"} {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "http://localhost:3000")
		h.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d, want 204", path, rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("%s: Allow-Origin = %q", path, got)
		}
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	h.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin = %q", got)
	}
}

func TestLiveness(t *testing.T) {
	h := NewGatewayHandler(Deps{Upstream: proxy.NewClient(proxy.Target{}), Logger: quietLogger()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := decodeBody(t, rr)["status"]; got != "ok" {
		t.Errorf("status = %v, want ok", got)
	}
}
