package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/querypilot/querypilot/internal/conversation"
	"github.com/querypilot/querypilot/internal/history"
	"github.com/querypilot/querypilot/internal/workflow"
)

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat is not configured", false, nil)
		return
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request chatRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	reply, err := deps.Chat.Handle(r.Context(), workflow.Message{
		TenantID:       tenantID,
		ConversationID: request.ConversationID,
		Text:           request.Message,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MESSAGE", err.Error(), false, nil)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func handleGetConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, conversationID, ok := conversationTarget(deps, w, r)
	if !ok {
		return
	}
	record, err := deps.Chat.Conversation(r.Context(), tenantID, conversationID)
	if err != nil {
		writeConversationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func handleDeleteConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, conversationID, ok := conversationTarget(deps, w, r)
	if !ok {
		return
	}
	if err := deps.Chat.Reset(r.Context(), tenantID, conversationID); err != nil {
		writeConversationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "conversation_id": conversationID})
}

func handleConversationHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	tenantID, conversationID, ok := conversationTarget(deps, w, r)
	if !ok {
		return
	}
	limit := history.DefaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	entries, err := deps.Chat.QueryHistory(r.Context(), tenantID, conversationID, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to load query history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"entries":         entries,
	})
}

func conversationTarget(deps Dependencies, w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat is not configured", false, nil)
		return "", "", false
	}
	tenantID, err := tenantFromRequest(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusUnauthorized, "TENANT_REQUIRED", err.Error(), false, nil)
		return "", "", false
	}
	if err := requireRole(r, "query_reader"); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return "", "", false
	}
	conversationID := strings.TrimSpace(r.PathValue("id"))
	if err := conversation.ValidateKey(tenantID, conversationID); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONVERSATION_ID", err.Error(), false, nil)
		return "", "", false
	}
	return tenantID, conversationID, true
}

func writeConversationError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, conversation.ErrNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation was not found", false, nil)
		return
	}
	writeError(r.Context(), w, http.StatusInternalServerError, "CONVERSATION_STORE_ERROR", "failed to access conversation state", true, map[string]any{"details": err.Error()})
}
