package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/modelgate/gateway/internal/engine"
	"github.com/modelgate/gateway/internal/tracking"
)

type providersResponse struct {
	Providers []string `json:"providers"`
}

func ProvidersHandler(chatEngine ChatEngine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, providersResponse{Providers: chatEngine.Providers()})
	})
}

func ModelsHandler(chatEngine ChatEngine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}

		filter := strings.TrimSpace(r.URL.Query().Get("provider"))
		listings := chatEngine.Models(filter)
		if filter != "" && len(listings) == 0 {
			writeError(w, http.StatusBadRequest, "unknown provider "+strconv.Quote(filter))
			return
		}
		writeJSON(w, http.StatusOK, listings)
	})
}

// ChatHandler serves POST /api/engine/chat/{provider}. The response is either
// one JSON ChatResponse or, when the request asks for streaming, raw text
// frames flushed as they arrive with the accounting terminator last.
func ChatHandler(chatEngine ChatEngine, recorder LogRecorder, metrics ChatMetrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}

		providerID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/engine/chat/"), "/")
		if providerID == "" || strings.Contains(providerID, "/") {
			writeError(w, http.StatusBadRequest, "provider is required in path")
			return
		}

		var req engine.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeError(w, http.StatusBadRequest, "model is required")
			return
		}
		if req.ChatInput == "" {
			writeError(w, http.StatusBadRequest, "chat_input is required")
			return
		}

		if req.IsStream {
			serveChatStream(w, r, chatEngine, providerID, &req)
			return
		}

		start := time.Now()
		resp, err := chatEngine.Chat(r.Context(), providerID, &req)
		if metrics != nil {
			metrics.RecordChatRequest(r.Context(), providerID, req.Model, err, time.Since(start))
		}
		if err != nil {
			writeEngineError(w, err)
			return
		}
		if recorder != nil {
			recorder.Enqueue(tracking.FromResponse(resp))
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func serveChatStream(w http.ResponseWriter, r *http.Request, chatEngine ChatEngine, providerID string, req *engine.ChatRequest) {
	stream, err := chatEngine.ChatStream(r.Context(), providerID, req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer func() { _ = stream.Close() }()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	wroteAny := false
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			// Headers are already out once the first frame is written, so a
			// status code can no longer carry the failure; a terminal error
			// frame keeps truncation distinguishable from completion.
			if !wroteAny {
				writeEngineError(w, err)
				return
			}
			_, _ = io.WriteString(w, streamErrorFrame(err))
			flusher.Flush()
			return
		}
		if _, err := io.WriteString(w, chunk.Text); err != nil {
			return
		}
		wroteAny = true
		flusher.Flush()
	}
}

// StreamErrorToken leads the in-band frame reporting a mid-stream failure.
const StreamErrorToken = "<STREAM_ERROR>"

func streamErrorFrame(err error) string {
	return StreamErrorToken + ",status=" + strconv.Itoa(statusForError(err)) + ",message=" + strconv.Quote(err.Error())
}
