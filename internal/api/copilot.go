package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"flowpilot/internal/credentials"
	"flowpilot/internal/models"
)

// ChatStreamer opens a streaming completion against the model provider and
// forwards delta tokens to the callback.
type ChatStreamer interface {
	Stream(ctx context.Context, apiKey string, messages []models.ChatMessage, onToken func(string) error) error
}

// copilotSystemPrompt is the fixed instruction sent with every turn. Model
// and token-limit parameters live in config; none of this is user-controlled.
const copilotSystemPrompt = "You are a workflow automation copilot. You help users create and edit " +
	"workflows, and answer questions about workflow automation. When the user asks you to create or " +
	"modify a workflow, first explain what you are doing in plain language, then output the complete " +
	"replacement workflow as JSON inside a fenced ```json code block. The workflow JSON must contain " +
	"a \"nodes\" array and a \"connections\" object. When no workflow change is needed, answer the " +
	"question directly without a code block."

type chatRequest struct {
	UserMessage         string               `json:"userMessage"`
	ConversationHistory []models.ChatMessage `json:"conversationHistory"`
}

const streamFailureMessage = "The assistant could not finish this reply. Please try again."

// copilotChat relays one chat turn to the model provider and streams the
// reply back as `data:`-framed JSON events. Credential resolution happens
// before any SSE header is written, so those failures map to plain HTTP
// statuses; once streaming has started, failures become in-band error events
// because the headers are already committed.
func (h *Handler) copilotChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userMessage is required"})
		return
	}
	for _, msg := range req.ConversationHistory {
		if msg.Role != models.RoleUser && msg.Role != models.RoleAssistant {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history role"})
			return
		}
	}

	apiKey, err := h.resolver.Resolve(c.Request.Context(), userID)
	if err != nil {
		log.Printf("copilot: resolve credential for user %d: %v", userID, err)
		switch {
		case errors.Is(err, credentials.ErrNotConfigured):
			c.JSON(http.StatusNotFound, gin.H{"error": "anthropic credential not configured"})
		case errors.Is(err, credentials.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "no permission to use this credential"})
		case errors.Is(err, credentials.ErrMalformed):
			c.JSON(http.StatusBadRequest, gin.H{"error": "anthropic credential is misconfigured"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "credential lookup failed"})
		}
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	// Origin echo is only safe for single-tenant deployments; see DESIGN.md.
	if origin := c.GetHeader("Origin"); origin != "" {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	c.Status(http.StatusOK)

	sendEvent := func(event models.StreamEvent) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	messages := make([]models.ChatMessage, 0, len(req.ConversationHistory)+2)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: copilotSystemPrompt})
	messages = append(messages, req.ConversationHistory...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: req.UserMessage})

	err = h.chat.Stream(c.Request.Context(), apiKey, messages, func(token string) error {
		return sendEvent(models.StreamEvent{Type: models.EventText, Content: token})
	})
	if err != nil {
		// Streaming failures are terminal for the turn; no retries.
		log.Printf("copilot: stream for user %d: %v", userID, err)
		_ = sendEvent(models.StreamEvent{Type: models.EventError, Content: streamFailureMessage})
		return
	}
	_ = sendEvent(models.StreamEvent{Type: models.EventComplete})
}
