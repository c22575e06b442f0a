// Package api exposes the chat pipeline and transcript over HTTP, plus an
// MCP server for tool-based access.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/daybot/internal/oracle"
	"github.com/kalambet/daybot/internal/pipeline"
	"github.com/kalambet/daybot/internal/storage"
)

const maxBodySize = 1 << 20 // 1MB

// TurnRunner runs one chat turn. Implemented by pipeline.Engine.
type TurnRunner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.TurnResult, error)
}

// Converser produces small-talk replies for /conv. Implemented by
// oracle.Oracle.
type Converser interface {
	Converse(ctx context.Context, input, history string) (string, error)
}

// Drafter writes notification wording for a task. Implemented by
// oracle.Oracle.
type Drafter interface {
	NotificationMessage(ctx context.Context, task string) (oracle.Notification, error)
}

// MessageStore is the transcript surface the API needs.
type MessageStore interface {
	AppendMessage(owner, text, role string) error
	ListMessagesByOwner(owner string) ([]storage.Message, error)
	ClearMessages(owner string) error
}

// TaskLister lists a user's tasks.
type TaskLister interface {
	ListTasksByOwner(owner string) ([]storage.Task, error)
}

// CalendarFactory builds a per-turn calendar client from the caller's
// access token. A nil factory disables calendar sync.
type CalendarFactory func(ctx context.Context, accessToken string) (pipeline.Calendar, error)

// AppDeps holds the collaborators the HTTP layer runs against.
type AppDeps struct {
	Engine      TurnRunner
	Converser   Converser
	Drafter     Drafter
	Messages    MessageStore
	Tasks       TaskLister
	NewCalendar CalendarFactory
}

// NewAppHandler builds the HTTP router. Everything except /health requires
// a bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth)

		r.Post("/chat", handleChat(deps))
		r.Post("/conv", handleConv(deps))
		r.Post("/message", handleMessage(deps))
		r.Get("/messages", handleListMessages(deps))
		r.Delete("/messages", handleClearMessages(deps))
		r.Get("/tasks", handleListTasks(deps))
	})

	return r
}

type chatRequest struct {
	Owner string `json:"owner"`
	Input string `json:"input"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		turn := pipeline.Request{Owner: req.Owner, Input: req.Input}
		if deps.NewCalendar != nil {
			cal, err := deps.NewCalendar(r.Context(), AccessToken(r.Context()))
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "calendar unavailable: %v", err)
				return
			}
			turn.Calendar = cal
		}

		res, err := deps.Engine.Run(r.Context(), turn)
		if err != nil {
			if errors.Is(err, pipeline.ErrValidation) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "chat turn failed: %v", err)
			return
		}

		writeJSON(w, renderTurn(res))
	}
}

// renderTurn flattens a turn result into the wire shape: a conflict is a
// normal 200 with isConflict set, never an HTTP error.
func renderTurn(res pipeline.TurnResult) map[string]any {
	if res.Kind == pipeline.ResultConflict {
		return map[string]any{
			"isConflict": true,
			"text":       res.Conflict.Text,
			"conflicts":  res.Conflict.Report.Conflicts,
		}
	}

	data, _ := json.Marshal(res.Response)
	out := map[string]any{}
	json.Unmarshal(data, &out)
	out["isConflict"] = false
	return out
}

func handleConv(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChatRequest(w, r)
		if !ok {
			return
		}

		history, err := transcriptText(deps.Messages, req.Owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading history: %v", err)
			return
		}

		reply, err := deps.Converser.Converse(r.Context(), req.Input, history)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "conversation failed: %v", err)
			return
		}

		if err := deps.Messages.AppendMessage(req.Owner, req.Input, storage.RoleUser); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "logging message: %v", err)
			return
		}
		if err := deps.Messages.AppendMessage(req.Owner, reply, storage.RoleBot); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "logging reply: %v", err)
			return
		}

		writeJSON(w, map[string]string{"text": reply})
	}
}

type messageRequest struct {
	Task string `json:"task"`
}

// handleMessage drafts notification wording (title and body) for a task
// description.
func handleMessage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Task == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "task is required")
			return
		}

		n, err := deps.Drafter.NotificationMessage(r.Context(), req.Task)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "drafting notification: %v", err)
			return
		}
		writeJSON(w, n)
	}
}

func handleListMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner is required")
			return
		}
		msgs, err := deps.Messages.ListMessagesByOwner(owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing messages: %v", err)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, msgs)
	}
}

func handleClearMessages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner is required")
			return
		}
		if err := deps.Messages.ClearMessages(owner); err != nil && !errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing messages: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "cleared"})
	}
}

func handleListTasks(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner is required")
			return
		}
		tasks, err := deps.Tasks.ListTasksByOwner(owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing tasks: %v", err)
			return
		}
		if tasks == nil {
			tasks = []storage.Task{}
		}
		writeJSON(w, tasks)
	}
}

func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return chatRequest{}, false
	}
	if req.Owner == "" || req.Input == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "owner and input are required")
		return chatRequest{}, false
	}
	return req, true
}

func transcriptText(store MessageStore, owner string) (string, error) {
	msgs, err := store.ListMessagesByOwner(owner)
	if err != nil {
		return "", err
	}
	var out string
	for _, m := range msgs {
		out += m.Role + ": " + m.Text + "\n"
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
