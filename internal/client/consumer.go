package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"flowpilot/internal/models"
)

// Callbacks receive parsed stream events. OnText may fire any number of
// times including zero; at most one of OnComplete/OnError fires per Stream
// call, and never both.
type Callbacks struct {
	OnText     func(string)
	OnError    func(error)
	OnComplete func()
}

// Consumer opens copilot chat turns against the relay and dispatches the
// SSE reply stream. Construct one per application context and pass it to
// consumers; it holds no hidden state beyond its configuration.
type Consumer struct {
	baseURL    string
	userID     int64
	authToken  string
	httpClient *http.Client
}

// NewConsumer builds a consumer for the given relay endpoint and user.
func NewConsumer(baseURL string, userID int64, authToken string) *Consumer {
	return &Consumer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		authToken:  authToken,
		httpClient: &http.Client{},
	}
}

type chatRequest struct {
	UserMessage         string               `json:"userMessage"`
	ConversationHistory []models.ChatMessage `json:"conversationHistory"`
}

// maxFrameSize bounds a single SSE line; replies are capped by the
// provider's token limit so this is generous.
const maxFrameSize = 1 << 20

// Stream posts one chat turn and reads the response body incrementally,
// splitting on newlines to recover `data: `-prefixed frames. Malformed
// frames are logged and skipped. Transport failures surface through OnError
// exactly once and never through OnComplete. The body is released on all
// exit paths.
func (c *Consumer) Stream(ctx context.Context, message string, history []models.ChatMessage, cb Callbacks) error {
	body, err := json.Marshal(chatRequest{
		UserMessage:         message,
		ConversationHistory: history,
	})
	if err != nil {
		return c.fail(cb, fmt.Errorf("encode request: %w", err))
	}

	url := fmt.Sprintf("%s/api/users/%d/copilot/chat", c.baseURL, c.userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.fail(cb, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(cb, fmt.Errorf("open stream: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return c.fail(cb, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var event models.StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			log.Printf("copilot client: skipping malformed frame: %v", err)
			continue
		}
		switch event.Type {
		case models.EventText:
			if cb.OnText != nil {
				cb.OnText(event.Content)
			}
		case models.EventError:
			return c.fail(cb, errors.New(event.Content))
		case models.EventComplete:
			if cb.OnComplete != nil {
				cb.OnComplete()
			}
			return nil
		default:
			log.Printf("copilot client: skipping unknown event type %q", event.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return c.fail(cb, fmt.Errorf("read stream: %w", err))
	}
	// Stream ended without a terminal frame; neither callback fires.
	return nil
}

func (c *Consumer) fail(cb Callbacks, err error) error {
	if cb.OnError != nil {
		cb.OnError(err)
	}
	return err
}
