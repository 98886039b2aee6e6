// internal/chat/handlers.go

package chat

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hearsayhq/hearsay-backend/internal/auth"
	"github.com/hearsayhq/hearsay-backend/internal/common/utils"
	"github.com/hearsayhq/hearsay-backend/internal/users"
)

// Handler serves the chat REST API and the websocket upgrade endpoint
type Handler struct {
	service  Service
	hub      *Hub
	throttle *Throttle
	verify   TokenVerifier
	upgrader websocket.Upgrader
}

func NewHandler(service Service, hub *Hub, throttle *Throttle, verify TokenVerifier, allowedOrigins []string) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		throttle: throttle,
		verify:   verify,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := false
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = true
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header
			return true
		}
		return set[origin]
	}
}

// HandleWebSocket upgrades the connection. Authentication happens on the
// socket itself: the client's first frame must be an auth event, so this
// endpoint sits outside the bearer-token middleware.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(h.hub, conn, h.service, h.throttle, h.verify)
	client.Start()
}

// CreateDM finds or creates the DM with the requested user. Returns 200
// whether the conversation existed or was just created.
func (h *Handler) CreateDM(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateDMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, _, err := h.service.GetOrCreateDM(r.Context(), userID, req.ParticipantID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"conversation": conv,
	})
}

// CreateGroup creates a group conversation
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := h.service.CreateGroup(r.Context(), userID, req.Name, req.ParticipantIDs)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      true,
		"conversation": conv,
	})
}

// GetConversations lists the caller's conversations, most recent first
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convs, err := h.service.ListConversations(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if convs == nil {
		convs = []*Conversation{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"conversations": convs,
	})
}

// GetMessages pages through conversation history. The cursor query param is
// an RFC3339 timestamp from a previous page's nextCursor.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convID := mux.Vars(r)["id"]

	var cursor *time.Time
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			utils.ErrorResponse(w, "Invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = &parsed
	}

	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	page, err := h.service.ListMessages(r.Context(), convID, userID, cursor, limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	if page.Messages == nil {
		page.Messages = []*Message{}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"messages":   page.Messages,
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// SendMessage posts a message over REST; useful as a fallback when the
// socket is unavailable. Live listeners get the same broadcasts either way.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convID := mux.Vars(r)["id"]

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	start := time.Now()
	conv, msg, err := h.service.SendMessage(r.Context(), convID, userID, req.Content)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	sendDuration.Observe(time.Since(start).Seconds())
	messagesSentTotal.WithLabelValues("rest").Inc()

	h.fanOutMessage(conv, msg)

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": msg,
	})
}

// MarkRead marks every message in the conversation read for the caller
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	convID := mux.Vars(r)["id"]

	if err := h.service.MarkRead(r.Context(), convID, userID); err != nil {
		h.respondServiceError(w, err)
		return
	}

	// The caller's other devices learn their counter dropped to zero
	h.hub.SendToUser(userID, NewEvent(EventUnreadUpdated, UnreadUpdatedEvent{
		ConversationID: convID,
		UnreadCount:    0,
	}))

	utils.MessageResponse(w, "Conversation marked as read", http.StatusOK)
}

// DeleteMessage deletes a message for the caller or for everyone
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	convID := vars["id"]
	msgID := vars["messageId"]

	var req DeleteMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.service.DeleteMessage(r.Context(), convID, msgID, userID, req.Scope)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	if req.Scope == "everyone" {
		content := msg.Content
		h.hub.BroadcastToConversation(convID, NewEvent(EventMessageDeleted, MessageDeletedEvent{
			ConversationID: convID,
			MessageID:      msgID,
			Scope:          req.Scope,
			Content:        &content,
		}))
	} else {
		h.hub.SendToUser(userID, NewEvent(EventMessageDeleted, MessageDeletedEvent{
			ConversationID: convID,
			MessageID:      msgID,
			Scope:          req.Scope,
		}))
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msg,
	})
}

// fanOutMessage emits the live events for a freshly sent message
func (h *Handler) fanOutMessage(conv *Conversation, msg *Message) {
	h.hub.BroadcastToConversation(conv.ID.Hex(), NewEvent(EventNewMessage, NewMessageEvent{
		ConversationID: conv.ID.Hex(),
		Message:        msg,
	}))

	for hex, count := range conv.UnreadCounts {
		h.hub.SendToUser(hex, NewEvent(EventUnreadUpdated, UnreadUpdatedEvent{
			ConversationID: conv.ID.Hex(),
			UnreadCount:    count,
		}))
	}
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotParticipant), errors.Is(err, ErrConversationNotFound):
		utils.ErrorResponse(w, "Not authorized for this conversation", http.StatusForbidden)
	case errors.Is(err, ErrNotSender):
		utils.ErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, users.ErrUserNotFound):
		utils.ErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrDMExists):
		utils.ErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrSelfDM), errors.Is(err, ErrGroupTooSmall),
		errors.Is(err, ErrInvalidID), errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrContentTooLong):
		utils.ErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("Chat handler error: %v", err)
		utils.ErrorResponse(w, "Internal server error", http.StatusInternalServerError)
	}
}
