package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/finchat/internal/proxy"
)

const maxRequestBodySize = 32 << 20 // 32MB; histories carry base64 page images

// Upstream is the backend the gateway forwards to.
type Upstream interface {
	Target() proxy.Target
	Chat(ctx context.Context, body []byte) ([]byte, error)
	Health(ctx context.Context) ([]byte, error)
}

type Deps struct {
	Upstream       Upstream
	Cache          *HealthCache
	AllowedOrigins []string
	Logger         *slog.Logger
}

type gateway struct {
	upstream Upstream
	cache    *HealthCache
	logger   *slog.Logger
	refresh  singleflight.Group
}

// NewGatewayHandler returns the HTTP handler for the chat and health routes.
func NewGatewayHandler(deps Deps) http.Handler {
	g := &gateway{
		upstream: deps.Upstream,
		cache:    deps.Cache,
		logger:   deps.Logger,
	}
	if g.cache == nil {
		g.cache = NewHealthCache(DefaultHealthCacheTTL)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORS(deps.AllowedOrigins))

	r.Get("/healthz", handleLiveness)
	r.Post("/api/chat", g.handleChat)
	r.Get("/api/health", g.handleHealth)
	return r
}

func handleLiveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	log := g.logger.With("request_id", middleware.GetReqID(r.Context()))

	if err := g.upstream.Target().Validate(true); err != nil {
		log.Error("chat proxy misconfigured", "error", err)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Warn("reading chat request", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		Error(w, http.StatusInternalServerError, "invalid request body: expected JSON")
		return
	}

	resp, err := g.upstream.Chat(r.Context(), body)
	if err != nil {
		log.Error("chat proxy error", "error", err)
		Error(w, http.StatusInternalServerError, chatErrorMessage(err))
		return
	}
	writeRaw(w, http.StatusOK, resp)
}

// chatErrorMessage keeps upstream addresses out of client-visible errors.
func chatErrorMessage(err error) string {
	var ce *proxy.ConfigError
	var se *proxy.StatusError
	switch {
	case errors.As(err, &ce), errors.As(err, &se):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "backend request timed out"
	default:
		return "failed to process chat request"
	}
}

func (g *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if body, ok := g.cache.Get(); ok {
		writeRaw(w, http.StatusOK, body)
		return
	}

	// Concurrent misses share one upstream call; it is not tied to any
	// single caller's request context.
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := g.refresh.Do("health", func() (any, error) {
		if body, ok := g.cache.Get(); ok {
			return body, nil
		}
		body, err := g.upstream.Health(ctx)
		if err != nil {
			return nil, err
		}
		g.cache.Put(body)
		return body, nil
	})
	if err != nil {
		g.logger.Error("health check failed",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeRaw(w, http.StatusOK, v.([]byte))
}
