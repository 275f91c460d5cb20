// Package api exposes the service as JSON over HTTP.
//
//	GET    /api/schedule          list (filter: q, from, to, <field>=<value>)
//	POST   /api/schedule          create
//	GET    /api/schedule/{id}     read
//	PATCH  /api/schedule/{id}     update (cascades)
//	DELETE /api/schedule/{id}     delete (orphans linked posts)
//	...    /api/posts[/{id}]      same shape for posts
//	GET    /api/options           suggestions (?field=market)
//
// Every mutation is published after it persists. Requests carrying
// ClientIDHeader publish with that client as origin, so its own socket gets
// no echo; the reserved server origins are refused.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/mschirtzinger/postlink/internal/broadcast"
	"github.com/mschirtzinger/postlink/internal/cascade"
	"github.com/mschirtzinger/postlink/internal/filter"
	"github.com/mschirtzinger/postlink/internal/schema"
	"github.com/mschirtzinger/postlink/internal/service"
	"github.com/mschirtzinger/postlink/internal/store"
)

const (
	// ClientIDHeader identifies the websocket client behind a request.
	ClientIDHeader = "X-Client-ID"

	// Cascade result headers on schedule update and delete.
	CascadeAppliedHeader = "X-Cascade-Applied"
	CascadeFailedHeader  = "X-Cascade-Failed"

	maxBodyBytes = 1 << 20
)

// Handler routes API requests to a Service.
type Handler struct {
	svc    *service.Service
	mux    *http.ServeMux
	logger *log.Logger
}

// NewHandler creates the API handler.
func NewHandler(svc *service.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	h := &Handler{svc: svc, mux: http.NewServeMux(), logger: logger}

	h.mux.HandleFunc("GET /api/schedule", h.listSchedules)
	h.mux.HandleFunc("POST /api/schedule", h.createSchedule)
	h.mux.HandleFunc("GET /api/schedule/{id}", h.getSchedule)
	h.mux.HandleFunc("PATCH /api/schedule/{id}", h.updateSchedule)
	h.mux.HandleFunc("PUT /api/schedule/{id}", h.updateSchedule)
	h.mux.HandleFunc("DELETE /api/schedule/{id}", h.deleteSchedule)

	h.mux.HandleFunc("GET /api/posts", h.listPosts)
	h.mux.HandleFunc("POST /api/posts", h.createPost)
	h.mux.HandleFunc("GET /api/posts/{id}", h.getPost)
	h.mux.HandleFunc("PATCH /api/posts/{id}", h.updatePost)
	h.mux.HandleFunc("PUT /api/posts/{id}", h.updatePost)
	h.mux.HandleFunc("DELETE /api/posts/{id}", h.deletePost)

	h.mux.HandleFunc("GET /api/options", h.options)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(ClientIDHeader); broadcast.IsReservedOrigin(id) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("client id %q is reserved", id)})
		return
	}
	h.mux.ServeHTTP(w, r)
}

func requestContext(r *http.Request) context.Context {
	return service.WithOrigin(r.Context(), r.Header.Get(ClientIDHeader))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListSchedules(r.Context(), filter.ParseQuery(r.URL.Query()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var entry schema.ScheduleEntry
	if !h.decode(w, r, &entry) {
		return
	}
	saved, err := h.svc.CreateSchedule(requestContext(r), &entry)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.GetSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var patch schema.SchedulePatch
	if !h.decode(w, r, &patch) {
		return
	}
	res, err := h.svc.UpdateSchedule(requestContext(r), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	setCascadeHeaders(w, res.Cascade)
	writeJSON(w, http.StatusOK, res.Entry)
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteSchedule(requestContext(r), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	setCascadeHeaders(w, res.Cascade)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPosts(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPosts(r.Context(), filter.ParseQuery(r.URL.Query()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	var post schema.Post
	if !h.decode(w, r, &post) {
		return
	}
	saved, err := h.svc.CreatePost(requestContext(r), &post)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) getPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.svc.GetPost(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) updatePost(w http.ResponseWriter, r *http.Request) {
	var patch schema.PostPatch
	if !h.decode(w, r, &patch) {
		return
	}
	saved, err := h.svc.UpdatePost(requestContext(r), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) deletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePost(requestContext(r), r.PathValue("id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) options(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Options(r.URL.Query().Get("field")))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func setCascadeHeaders(w http.ResponseWriter, out *cascade.Outcome) {
	if out == nil {
		return
	}
	w.Header().Set(CascadeAppliedHeader, strconv.Itoa(len(out.Applied)))
	w.Header().Set(CascadeFailedHeader, strconv.Itoa(len(out.Failed)))
}

type errorBody struct {
	Error string `json:"error"`
}

// StatusFor maps a service error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Printf("Request failed: %v", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
