package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"flowpilot/internal/workflow"
)

// WorkflowClient reads and replaces a user's active workflow document over
// the HTTP API. It satisfies the panel's workflow accessor.
type WorkflowClient struct {
	baseURL    string
	userID     int64
	authToken  string
	httpClient *http.Client
}

// NewWorkflowClient builds a workflow client for the given user.
func NewWorkflowClient(baseURL string, userID int64, authToken string) *WorkflowClient {
	return &WorkflowClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		authToken:  authToken,
		httpClient: &http.Client{},
	}
}

// Current fetches the active workflow. A missing document maps to
// workflow.ErrNoWorkflow.
func (w *WorkflowClient) Current(ctx context.Context) (*workflow.Document, error) {
	resp, err := w.do(ctx, http.MethodGet, w.workflowURL(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, workflow.ErrNoWorkflow
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}
	var doc workflow.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &doc, nil
}

// Replace overwrites the active workflow.
func (w *WorkflowClient) Replace(ctx context.Context, doc *workflow.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	resp, err := w.do(ctx, http.MethodPut, w.workflowURL(), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// SetTitle renames the active workflow.
func (w *WorkflowClient) SetTitle(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("encode rename: %w", err)
	}
	resp, err := w.do(ctx, http.MethodPut, w.workflowURL()+"/name", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

func (w *WorkflowClient) workflowURL() string {
	return fmt.Sprintf("%s/api/users/%d/workflow", w.baseURL, w.userID)
}

func (w *WorkflowClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.authToken)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow request: %w", err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
}
