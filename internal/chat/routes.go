// internal/chat/routes.go

package chat

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes registers the websocket endpoint and the chat REST API.
// The websocket route skips the bearer middleware: sockets authenticate
// with their first frame instead. The REST subrouter carries both the auth
// middleware and the chat-specific rate limiter.
func RegisterRoutes(router *mux.Router, handler *Handler, authMiddleware, chatLimiter mux.MiddlewareFunc) {
	router.HandleFunc("/ws", handler.HandleWebSocket).Methods("GET")

	api := router.PathPrefix("/api/v1/chat").Subrouter()
	api.Use(authMiddleware)
	if chatLimiter != nil {
		api.Use(chatLimiter)
	}

	api.HandleFunc("/conversations", handler.GetConversations).Methods("GET")
	api.HandleFunc("/conversations/dm", handler.CreateDM).Methods("POST")
	api.HandleFunc("/conversations/group", handler.CreateGroup).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9a-fA-F]{24}}/messages", handler.GetMessages).Methods("GET")
	api.HandleFunc("/conversations/{id:[0-9a-fA-F]{24}}/messages", handler.SendMessage).Methods("POST")
	api.HandleFunc("/conversations/{id:[0-9a-fA-F]{24}}/read", handler.MarkRead).Methods("PATCH")
	api.HandleFunc("/conversations/{id:[0-9a-fA-F]{24}}/messages/{messageId:[0-9a-fA-F]{24}}/delete", handler.DeleteMessage).Methods("PATCH")
}

// RegisterHealthCheck exposes a liveness probe on the API listener
func RegisterHealthCheck(router *mux.Router, hub *Hub) {
	router.HandleFunc("/health/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`, hub.ActiveConnections())
	}).Methods("GET")
}
