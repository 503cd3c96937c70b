package panel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"flowpilot/internal/client"
	"flowpilot/internal/content"
	"flowpilot/internal/models"
	"flowpilot/internal/workflow"
)

// DisplayMessage is a rendered chat message. The assistant's message for a
// turn is created empty and mutated in place as text chunks arrive; it is
// the only mutable entity here.
type DisplayMessage struct {
	ID        int64
	Text      string
	Sender    models.Role
	Timestamp time.Time
	Images    []string
}

// Notifier is the toast/notification sink the panel reports through.
type Notifier interface {
	Working(message string)
	ClearWorking()
	Success(message string)
	Error(message string)
}

// WorkflowAccessor reads and replaces the active workflow document.
type WorkflowAccessor interface {
	Current(ctx context.Context) (*workflow.Document, error)
	Replace(ctx context.Context, doc *workflow.Document) error
	SetTitle(ctx context.Context, name string) error
}

// Streamer opens one chat turn and dispatches stream events; satisfied by
// client.Consumer.
type Streamer interface {
	Stream(ctx context.Context, message string, history []models.ChatMessage, cb client.Callbacks) error
}

const (
	workflowUpdatingNotice = "The workflow is being updated"
	workflowUpdatedNotice  = "Workflow updated from the assistant's suggestion"
	workflowApplyFailure   = "Could not apply the suggested workflow"
	assistantFailureText   = "Sorry, something went wrong while generating this reply. Please try again."
)

// Panel owns the conversation message list and orchestrates one chat turn:
// it snapshots the workflow, invokes the streamer, mutates the assistant
// message as chunks arrive, and applies the suggested workflow on completion.
type Panel struct {
	stream    Streamer
	workflows WorkflowAccessor
	notify    Notifier
	messages  []*DisplayMessage
	nextID    int64
}

// New constructs a panel.
func New(stream Streamer, workflows WorkflowAccessor, notify Notifier) *Panel {
	return &Panel{
		stream:    stream,
		workflows: workflows,
		notify:    notify,
	}
}

// Messages returns the current message list.
func (p *Panel) Messages() []*DisplayMessage {
	out := make([]*DisplayMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Submit runs one turn: append the user message, stream the assistant reply
// into a fresh placeholder, and on completion replace the active workflow
// with the last structured block of the reply if it decodes as a workflow.
// Stream failures are absorbed into the assistant message; only pre-stream
// failures are returned.
func (p *Panel) Submit(ctx context.Context, question string) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return errors.New("question cannot be empty")
	}

	doc, err := p.workflows.Current(ctx)
	if err != nil && !errors.Is(err, workflow.ErrNoWorkflow) {
		return fmt.Errorf("snapshot workflow: %w", err)
	}
	if doc == nil {
		doc = &workflow.Document{Nodes: []workflow.Node{}, Connections: map[string]any{}}
	}
	serialized, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("serialize workflow: %w", err)
	}

	p.appendMessage(models.RoleUser, question)
	prompt := fmt.Sprintf("Current workflow:\n%s\n\nQuestion: %s", serialized, question)
	assistant := p.appendMessage(models.RoleAssistant, "")
	history := p.historyExcluding(assistant)

	var full strings.Builder
	noticed := false
	cb := client.Callbacks{
		OnText: func(chunk string) {
			full.WriteString(chunk)
			assistant.Text += chunk
			if !noticed && strings.Contains(full.String(), "```json") {
				noticed = true
				p.notify.Working(workflowUpdatingNotice)
			}
		},
		OnComplete: func() {
			p.applyWorkflow(ctx, full.String())
			p.notify.ClearWorking()
		},
		OnError: func(err error) {
			log.Printf("copilot panel: stream failed: %v", err)
			p.notify.ClearWorking()
			assistant.Text = assistantFailureText
		},
	}

	_ = p.stream.Stream(ctx, prompt, history, cb)
	return nil
}

// historyExcluding converts the message list to chat history, dropping the
// given placeholder and any assistant message that is still empty.
func (p *Panel) historyExcluding(placeholder *DisplayMessage) []models.ChatMessage {
	history := make([]models.ChatMessage, 0, len(p.messages))
	for _, msg := range p.messages {
		if msg == placeholder {
			continue
		}
		if msg.Sender == models.RoleAssistant && strings.TrimSpace(msg.Text) == "" {
			continue
		}
		history = append(history, models.ChatMessage{Role: msg.Sender, Content: msg.Text})
	}
	return history
}

// applyWorkflow extracts the last structured block of the full reply and
// replaces the active workflow when it decodes as a workflow document. An
// absent block leaves the workflow untouched; an invalid one only raises a
// notice.
func (p *Panel) applyWorkflow(ctx context.Context, full string) {
	segments := content.Parse(full)
	raw, ok := content.LastStructured(segments)
	if !ok {
		return
	}
	doc, err := workflow.Decode(raw)
	if err != nil {
		log.Printf("copilot panel: suggested block is not a workflow: %v", err)
		p.notify.Error(workflowApplyFailure)
		return
	}
	if err := p.workflows.Replace(ctx, doc); err != nil {
		log.Printf("copilot panel: replace workflow: %v", err)
		p.notify.Error(workflowApplyFailure)
		return
	}
	if doc.Name != "" {
		if err := p.workflows.SetTitle(ctx, doc.Name); err != nil {
			log.Printf("copilot panel: set workflow title: %v", err)
		}
	}
	p.notify.Success(workflowUpdatedNotice)
}

func (p *Panel) appendMessage(sender models.Role, text string) *DisplayMessage {
	p.nextID++
	msg := &DisplayMessage{
		ID:        p.nextID,
		Text:      text,
		Sender:    sender,
		Timestamp: time.Now(),
	}
	p.messages = append(p.messages, msg)
	return msg
}
