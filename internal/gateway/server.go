package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lanternai/lantern/internal/adapter"
	"github.com/lanternai/lantern/internal/memory"
)

// Router builds the HTTP surface.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", g.handleHealth)
	r.Post("/v1/chat", g.handleChat)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/", g.handleSessionList)
		r.Get("/{id}", g.handleSessionShow)
		r.Delete("/{id}", g.handleSessionDelete)
		r.Post("/{id}/undo", g.handleUndo)
		r.Post("/{id}/redo", g.handleRedo)
		r.Post("/{id}/end", g.handleSessionEnd)
	})

	r.Route("/v1/memory", func(r chi.Router) {
		r.Get("/search", g.handleMemorySearch)
		r.Post("/", g.handleMemorySave)
		r.Get("/stats", g.handleMemoryStats)
		r.Get("/core", g.handleCoreList)
		r.Put("/core/{name}", g.handleCoreUpdate)
	})

	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": g.registry.IDs(),
	})
}

func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var in ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if in.Prompt == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
		return
	}

	if !in.Stream {
		resp, err := g.Chat(r.Context(), &in)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	resp, err := g.ChatStream(r.Context(), &in, func(ev adapter.StreamEvent) {
		w.Write([]byte("data: "))
		w.Write(marshalEvent(ev))
		w.Write([]byte("\n\n"))
		flusher.Flush()
	})
	if err != nil {
		// Headers are sent; surface the failure as a terminal event
		payload, _ := json.Marshal(map[string]string{"type": "error", "error": err.Error()})
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
		return
	}
	final, _ := json.Marshal(map[string]any{"type": "complete", "response": resp})
	w.Write([]byte("data: "))
	w.Write(final)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

func (g *Gateway) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := g.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (g *Gateway) handleSessionShow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := g.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	turns, err := g.sessions.Turns(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess, "turns": turns})
}

func (g *Gateway) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := g.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	if err := g.EndSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleUndo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	defer g.sessions.Lock(id)()
	turn, err := g.sessions.Undo(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (g *Gateway) handleRedo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	defer g.sessions.Lock(id)()
	turn, err := g.sessions.Redo(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (g *Gateway) handleMemorySearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, errors.New("q is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := g.memory.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (g *Gateway) handleMemorySave(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string   `json:"text"`
		Tags []string `json:"tags,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := g.memory.Save(r.Context(), in.Text, in.Tags)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (g *Gateway) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	st, err := g.memory.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (g *Gateway) handleCoreList(w http.ResponseWriter, r *http.Request) {
	blocks, err := g.memory.CoreBlocks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (g *Gateway) handleCoreUpdate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := g.memory.UpdateCore(r.Context(), chi.URLParam(r, "name"), in.Content)
	var ce *memory.CapacityError
	if errors.As(err, &ce) {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	var blocked *BlockedError
	var upstream *adapter.UpstreamError
	var cfgErr *adapter.ConfigError
	switch {
	case errors.As(err, &blocked):
		return http.StatusForbidden
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
