// Package api binds the chat and message services to HTTP. It is thin glue:
// strict JSON in, stable error codes out, no business rules of its own.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ember/cmd/internal/chat"
	"ember/cmd/internal/directory"
	"ember/cmd/internal/message"
)

const (
	maxBodyBytes = 1 << 20

	defaultPageLimit = 50
	maxPageLimit     = 200
)

// UserAdmin is the mutable slice of the directory exposed over HTTP so
// development deployments can seed users. Implemented by
// directory.InMemoryDirectory; production deployments resolve users against
// an external directory and leave this nil.
type UserAdmin interface {
	Register(username, channel string) (directory.User, error)
	SetChannel(userID int64, channel string) error
}

// Handler wires chat and message endpoints to their services.
type Handler struct {
	log      *slog.Logger
	chats    *chat.Service
	messages *message.Service
	users    UserAdmin
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithUserAdmin enables the /users seeding endpoints.
func WithUserAdmin(users UserAdmin) HandlerOption {
	return func(h *Handler) {
		if h == nil || users == nil {
			return
		}
		h.users = users
	}
}

// NewHandler constructs an API Handler.
func NewHandler(log *slog.Logger, chats *chat.Service, messages *message.Service, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if chats == nil || messages == nil {
		return nil, errors.New("api: nil service")
	}

	h := &Handler{log: log, chats: chats, messages: messages}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /chats", h.handleChatCreate)
	mux.HandleFunc("POST /chats/match", h.handleChatMatch)
	mux.HandleFunc("GET /chats", h.handleChatList)
	mux.HandleFunc("DELETE /chats/{id}", h.handleChatDelete)
	mux.HandleFunc("POST /chats/{id}/leave", h.handleChatLeave)
	mux.HandleFunc("GET /chats/{id}/messages", h.handleChatMessages)

	mux.HandleFunc("POST /messages", h.handleMessagePost)
	mux.HandleFunc("GET /messages", h.handleMessageList)
	mux.HandleFunc("GET /messages/{id}", h.handleMessageGet)
	mux.HandleFunc("DELETE /messages/{id}", h.handleMessageDelete)
	mux.HandleFunc("POST /messages/{id}/hide", h.handleMessageHide)
	mux.HandleFunc("POST /messages/{id}/forward", h.handleMessageForward)

	mux.HandleFunc("POST /users", h.handleUserCreate)
	mux.HandleFunc("PUT /users/{id}/channel", h.handleUserChannel)
}

// ---- wire shapes ----

type chatResponse struct {
	ID        int64     `json:"id"`
	Members   []int64   `json:"members"`
	Story     []int64   `json:"story"`
	CreatedAt time.Time `json:"created_at"`
}

func toChatResponse(c chat.Chat) chatResponse {
	return chatResponse{ID: c.ID, Members: c.Members, Story: c.Story, CreatedAt: c.CreatedAt}
}

type messageResponse struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	OwnerID        int64     `json:"owner_id"`
	Text           string    `json:"text"`
	ForwardedChats []int64   `json:"forwarded_chats,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageResponse(m message.Message) messageResponse {
	return messageResponse{
		ID: m.ID, ChatID: m.ChatID, OwnerID: m.OwnerID, Text: m.Text,
		ForwardedChats: m.ForwardedChats, CreatedAt: m.CreatedAt,
	}
}

func toMessageResponses(msgs []message.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

type hideResponse struct {
	MessageID int64     `json:"message_id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type userResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Channel  string `json:"channel,omitempty"`
}

// ---- chat handlers ----

type chatCreateRequest struct {
	RequesterID int64   `json:"requester_id"`
	MemberIDs   []int64 `json:"member_ids"`
}

func (h *Handler) handleChatCreate(w http.ResponseWriter, r *http.Request) {
	var req chatCreateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.RequesterID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "requester_id is required")
		return
	}

	c, err := h.chats.CreateChat(r.Context(), req.RequesterID, req.MemberIDs...)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toChatResponse(c))
}

type chatMatchRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *Handler) handleChatMatch(w http.ResponseWriter, r *http.Request) {
	var req chatMatchRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	c, ok, err := h.chats.MatchRequester(r.Context(), req.UserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, toChatResponse(c))
}

func (h *Handler) handleChatList(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryID(w, r, "user_id")
	if !ok {
		return
	}
	offset, limit := pageParams(r)

	chats, err := h.chats.UserChats(r.Context(), userID, offset, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]chatResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, toChatResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleChatDelete(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.chats.DeleteChat(r.Context(), chatID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChatResponse(c))
}

type chatLeaveRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *Handler) handleChatLeave(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req chatLeaveRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.chats.Leave(r.Context(), chatID, req.UserID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(w, r)
	if !ok {
		return
	}
	userID, ok := queryID(w, r, "user_id")
	if !ok {
		return
	}
	offset, limit := pageParams(r)

	msgs, err := h.messages.ChatMessages(r.Context(), chatID, userID, offset, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

// ---- message handlers ----

type messagePostRequest struct {
	ChatID  int64  `json:"chat_id"`
	OwnerID int64  `json:"owner_id"`
	Text    string `json:"text"`
}

func (h *Handler) handleMessagePost(w http.ResponseWriter, r *http.Request) {
	var req messagePostRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	m, err := h.messages.Post(r.Context(), req.ChatID, req.OwnerID, req.Text)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMessageResponse(m))
}

func (h *Handler) handleMessageList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := queryID(w, r, "owner_id")
	if !ok {
		return
	}
	offset, limit := pageParams(r)

	msgs, err := h.messages.OwnerMessages(r.Context(), ownerID, offset, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

func (h *Handler) handleMessageGet(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}

	m, err := h.messages.Message(r.Context(), messageID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(m))
}

func (h *Handler) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}

	m, err := h.messages.Delete(r.Context(), messageID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(m))
}

type messageHideRequest struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

func (h *Handler) handleMessageHide(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req messageHideRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	hide, err := h.messages.Hide(r.Context(), messageID, req.ChatID, req.UserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hideResponse{
		MessageID: hide.MessageID,
		ChatID:    hide.ChatID,
		UserID:    hide.UserID,
		CreatedAt: hide.CreatedAt,
	})
}

type messageForwardRequest struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

func (h *Handler) handleMessageForward(w http.ResponseWriter, r *http.Request) {
	messageID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req messageForwardRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	m, err := h.messages.Forward(r.Context(), messageID, req.ChatID, req.UserID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(m))
}

// ---- user handlers (development seeding) ----

type userCreateRequest struct {
	Username string `json:"username"`
	Channel  string `json:"channel"`
}

func (h *Handler) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		writeError(w, http.StatusServiceUnavailable, "directory_readonly", "user directory is managed externally")
		return
	}
	var req userCreateRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	u, err := h.users.Register(req.Username, req.Channel)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, userResponse{ID: u.ID, Username: u.Username, Channel: u.Channel})
}

type userChannelRequest struct {
	Channel string `json:"channel"`
}

func (h *Handler) handleUserChannel(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		writeError(w, http.StatusServiceUnavailable, "directory_readonly", "user directory is managed externally")
		return
	}
	userID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req userChannelRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if err := h.users.SetChannel(userID, req.Channel); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

// writeDomainError maps service errors to stable codes. ErrInvalidMember is
// checked before ErrUserNotFound because a failed member validation wraps
// both sentinels and must surface as a 400.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidMember):
		writeError(w, http.StatusBadRequest, "invalid_member", err.Error())
	case errors.Is(err, chat.ErrChatNotFound):
		writeError(w, http.StatusNotFound, "chat_not_found", "chat not found")
	case errors.Is(err, message.ErrMessageNotFound):
		writeError(w, http.StatusNotFound, "message_not_found", "message not found")
	case errors.Is(err, directory.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "user not found")
	case errors.Is(err, chat.ErrNotAMember):
		writeError(w, http.StatusForbidden, "not_a_member", "user is not a member of the chat")
	case errors.Is(err, chat.ErrInvalidInput),
		errors.Is(err, message.ErrInvalidInput),
		errors.Is(err, directory.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	default:
		h.log.Error("api.request.fail", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return 0, false
	}
	return id, true
}

func queryID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" is required")
		return 0, false
	}
	return id, true
}

func pageParams(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit = defaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return offset, limit
}
