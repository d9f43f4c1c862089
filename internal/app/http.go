package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/pkg/directory"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/pipeline"
	"chatrelay/pkg/store"
	"chatrelay/pkg/telemetry"
	"chatrelay/pkg/unread"
	"chatrelay/pkg/utils"
	"chatrelay/pkg/validation"
)

// router builds the full HTTP surface: the websocket endpoint, health and
// metrics, and the /v1 REST routes for history and message management.
func (a *App) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/ws", a.hub.ServeWS)
	r.HandleFunc("/healthz", healthzHandler).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyzHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(telemetry.Middleware)
	v1.HandleFunc("/conversations", a.listConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations", a.createGroup).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/direct", a.createDirect).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}", a.getConversation).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/join", a.joinConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/leave", a.leaveConversation).Methods(http.MethodPost)
	v1.HandleFunc("/conversations/{id}/messages", a.listMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/read", a.markConversationRead).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}", a.editMessage).Methods(http.MethodPut)
	v1.HandleFunc("/messages/{id}", a.deleteMessage).Methods(http.MethodDelete)
	v1.HandleFunc("/messages/{id}/reactions", a.toggleReaction).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/thread", a.getThread).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/receipts", a.getReceipts).Methods(http.MethodGet)

	return r
}

// startHTTP starts the HTTP server in a goroutine and returns a channel
// that will contain any fatal server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{Addr: a.eff.Addr, Handler: a.router()}

	errCh := make(chan error, 1)
	go func() {
		cert := a.eff.Config.Server.TLS.CertFile
		key := a.eff.Config.Server.TLS.KeyFile
		logger.Info("http_listen", "addr", a.eff.Addr, "tls", cert != "" && key != "")
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func readyzHandler(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// identity extracts the caller identity for mutating message routes. The
// REST surface trusts the header; authenticating the outer transport is
// the deployment's concern.
func identity(r *http.Request) string {
	return r.Header.Get("X-Identity")
}

// writeDomainError maps engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrNotMember), errors.Is(err, directory.ErrNotMember), errors.Is(err, pipeline.ErrNotSender), errors.Is(err, unread.ErrNotMember):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, directory.ErrDirectImmutable), errors.Is(err, pipeline.ErrDeleted):
		utils.JSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, validation.ErrInvalid):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *App) listConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing user parameter")
		return
	}
	convs := a.dir.ForUser(userID)
	out := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, models.ConversationSummary{
			Conversation: c,
			UnreadCount:  a.unr.Count(userID, c.ID),
		})
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"conversations": out})
}

func (a *App) createGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Creator      string   `json:"creator"`
		Name         string   `json:"name"`
		Description  string   `json:"description"`
		Participants []string `json:"participants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conv, err := a.dir.CreateGroup(req.Creator, req.Name, req.Description, req.Participants)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusCreated, conv)
}

func (a *App) createDirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserA string `json:"user_a"`
		UserB string `json:"user_b"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserA == "" || req.UserB == "" {
		utils.JSONError(w, http.StatusBadRequest, "user_a and user_b are required")
		return
	}
	conv, err := a.dir.CreateDirect(req.UserA, req.UserB)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *App) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := a.dir.Get(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, conv)
}

func (a *App) joinConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing user")
		return
	}
	if err := a.dir.Join(mux.Vars(r)["id"], req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) leaveConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing user")
		return
	}
	if err := a.dir.Leave(mux.Vars(r)["id"], req.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) listMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	if _, err := a.dir.Get(convID); err != nil {
		writeDomainError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	msgs, err := store.ListMessages(convID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

func (a *App) markConversationRead(w http.ResponseWriter, r *http.Request) {
	who := identity(r)
	if who == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing X-Identity header")
		return
	}
	if err := a.unr.MarkConversationRead(mux.Vars(r)["id"], who); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) editMessage(w http.ResponseWriter, r *http.Request) {
	who := identity(r)
	if who == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing X-Identity header")
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := a.pipe.Edit(mux.Vars(r)["id"], who, req.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

func (a *App) deleteMessage(w http.ResponseWriter, r *http.Request) {
	who := identity(r)
	if who == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing X-Identity header")
		return
	}
	msg, err := a.pipe.Delete(mux.Vars(r)["id"], who)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, msg)
}

func (a *App) toggleReaction(w http.ResponseWriter, r *http.Request) {
	who := identity(r)
	if who == "" {
		utils.JSONError(w, http.StatusUnauthorized, "missing X-Identity header")
		return
	}
	var req struct {
		Emoji string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Emoji == "" {
		utils.JSONError(w, http.StatusBadRequest, "missing emoji")
		return
	}
	reactions, err := a.pipe.React(mux.Vars(r)["id"], who, req.Emoji)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"reactions": reactions})
}

func (a *App) getThread(w http.ResponseWriter, r *http.Request) {
	replies, err := a.pipe.Thread(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"replies": replies, "count": len(replies)})
}

func (a *App) getReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := store.ReadBy(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"receipts": receipts})
}
