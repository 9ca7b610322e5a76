// Package api exposes the engine and tracking store over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/modelgate/gateway/internal/correlation"
	"github.com/modelgate/gateway/internal/engine"
	"github.com/modelgate/gateway/internal/tracking"
)

// ChatEngine is the slice of the engine the HTTP layer needs.
type ChatEngine interface {
	Providers() []string
	Models(filter string) map[string]engine.ModelListing
	Chat(ctx context.Context, providerID string, req *engine.ChatRequest) (*engine.ChatResponse, error)
	ChatStream(ctx context.Context, providerID string, req *engine.ChatRequest) (engine.Stream, error)
}

// LogRecorder accepts completed chat logs for background persistence.
type LogRecorder interface {
	Enqueue(log *tracking.Log) bool
}

// ChatMetrics receives one observation per completed chat request.
type ChatMetrics interface {
	RecordChatRequest(ctx context.Context, provider, model string, err error, duration time.Duration)
}

type RouterOptions struct {
	AppVersion    string
	Engine        ChatEngine
	Store         tracking.Store
	Recorder      LogRecorder
	Metrics       ChatMetrics
	StorageDriver string
	StoragePath   string
}

func NewRouter(options RouterOptions) http.Handler {
	startedAt := time.Now().UTC()
	mux := http.NewServeMux()

	mux.Handle("/health", HealthHandler(HealthOptions{
		Version:       options.AppVersion,
		StartedAt:     startedAt,
		StorageDriver: options.StorageDriver,
		StoragePath:   options.StoragePath,
	}))
	mux.Handle("/api/engine/providers", ProvidersHandler(options.Engine))
	mux.Handle("/api/engine/models", ModelsHandler(options.Engine))
	mux.Handle("/api/engine/chat/", ChatHandler(options.Engine, options.Recorder, options.Metrics))
	mux.Handle("/api/tracking/logs", LogsHandler(options.Store))
	mux.Handle("/api/tracking/logs/", LogDetailHandler(options.Store))
	mux.Handle("/api/export", ExportHandler(options.Store))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"name":    "modelgate",
			"version": options.AppVersion,
			"status":  "ok",
		})
	})

	return correlation.Middleware(withCORS(mux))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(payload); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("{\"error\":\"internal server error\"}\n"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body.Bytes())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeEngineError maps the engine error taxonomy onto HTTP statuses: caller
// mistakes are 400/401, upstream failures are 502/504, everything else is 500.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	var (
		unknownProvider  *engine.UnknownProviderError
		unsupportedModel *engine.UnsupportedModelError
		missingCreds     *engine.MissingCredentialsError
		upstream         *engine.UpstreamError
	)
	switch {
	case errors.As(err, &unknownProvider), errors.As(err, &unsupportedModel):
		return http.StatusBadRequest
	case errors.As(err, &missingCreds):
		return http.StatusUnauthorized
	case errors.As(err, &upstream):
		if upstream.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method+", OPTIONS")
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func withCORS(next http.Handler) http.Handler {
	allowedHeaders := []string{"Content-Type", "Authorization", "X-API-Key"}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
