package panel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"flowpilot/internal/client"
	"flowpilot/internal/models"
	"flowpilot/internal/workflow"
)

// scriptStreamer replays a fixed reply as text chunks and records what it
// was asked to send.
type scriptStreamer struct {
	chunks    []string
	streamErr error

	gotMessage string
	gotHistory []models.ChatMessage
}

func (s *scriptStreamer) Stream(ctx context.Context, message string, history []models.ChatMessage, cb client.Callbacks) error {
	s.gotMessage = message
	s.gotHistory = history
	for _, chunk := range s.chunks {
		if cb.OnText != nil {
			cb.OnText(chunk)
		}
	}
	if s.streamErr != nil {
		if cb.OnError != nil {
			cb.OnError(s.streamErr)
		}
		return s.streamErr
	}
	if cb.OnComplete != nil {
		cb.OnComplete()
	}
	return nil
}

type fakeAccessor struct {
	doc        *workflow.Document
	currentErr error
	replaceErr error

	replaced []*workflow.Document
	titles   []string
}

func (f *fakeAccessor) Current(ctx context.Context) (*workflow.Document, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return f.doc, nil
}

func (f *fakeAccessor) Replace(ctx context.Context, doc *workflow.Document) error {
	if f.replaceErr != nil {
		return f.replaceErr
	}
	f.replaced = append(f.replaced, doc)
	return nil
}

func (f *fakeAccessor) SetTitle(ctx context.Context, name string) error {
	f.titles = append(f.titles, name)
	return nil
}

type fakeNotifier struct {
	working   int
	cleared   int
	successes []string
	errors    []string
}

func (f *fakeNotifier) Working(message string) { f.working++ }
func (f *fakeNotifier) ClearWorking()          { f.cleared++ }
func (f *fakeNotifier) Success(message string) { f.successes = append(f.successes, message) }
func (f *fakeNotifier) Error(message string)   { f.errors = append(f.errors, message) }

func emptyDoc() *workflow.Document {
	return &workflow.Document{Nodes: []workflow.Node{}, Connections: map[string]any{}}
}

func TestSubmitAppliesSuggestedWorkflow(t *testing.T) {
	reply := "Here is the plan.\n```json\n{\"name\":\"Lead intake\",\"nodes\":[{\"name\":\"Webhook\",\"type\":\"webhook\"}],\"connections\":{}}\n```\nDone."
	stream := &scriptStreamer{chunks: strings.Split(reply, " ")}
	for i := range stream.chunks[:len(stream.chunks)-1] {
		stream.chunks[i] += " "
	}
	accessor := &fakeAccessor{doc: emptyDoc()}
	notify := &fakeNotifier{}
	p := New(stream, accessor, notify)

	if err := p.Submit(context.Background(), "build a lead intake flow"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if len(accessor.replaced) != 1 {
		t.Fatalf("expected one workflow replacement, got %d", len(accessor.replaced))
	}
	doc := accessor.replaced[0]
	if doc.Name != "Lead intake" || len(doc.Nodes) != 1 || doc.Nodes[0].Type != "webhook" {
		t.Fatalf("unexpected replacement document %+v", doc)
	}
	if len(accessor.titles) != 1 || accessor.titles[0] != "Lead intake" {
		t.Fatalf("expected title to follow document name, got %v", accessor.titles)
	}
	if len(notify.successes) != 1 {
		t.Fatalf("expected exactly one success notice, got %v", notify.successes)
	}
	if notify.working != 1 || notify.cleared != 1 {
		t.Fatalf("working notice should fire once and clear once, got %d/%d", notify.working, notify.cleared)
	}

	msgs := p.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(msgs))
	}
	if msgs[1].Sender != models.RoleAssistant || msgs[1].Text != reply {
		t.Fatalf("assistant message not accumulated: %q", msgs[1].Text)
	}
}

func TestSubmitWithoutBlockLeavesWorkflowUntouched(t *testing.T) {
	stream := &scriptStreamer{chunks: []string{"Just an explanation, nothing to change."}}
	accessor := &fakeAccessor{doc: emptyDoc()}
	notify := &fakeNotifier{}
	p := New(stream, accessor, notify)

	if err := p.Submit(context.Background(), "what does this flow do"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(accessor.replaced) != 0 {
		t.Fatalf("workflow must not be replaced, got %d replacements", len(accessor.replaced))
	}
	if len(notify.successes) != 0 || len(notify.errors) != 0 {
		t.Fatalf("no notices expected, got success=%v error=%v", notify.successes, notify.errors)
	}
	if notify.working != 0 {
		t.Fatalf("working notice must not fire without a block")
	}
}

func TestSubmitInvalidBlockRaisesNotice(t *testing.T) {
	stream := &scriptStreamer{chunks: []string{"```json\n{\"connections\":{}}\n```"}}
	accessor := &fakeAccessor{doc: emptyDoc()}
	notify := &fakeNotifier{}
	p := New(stream, accessor, notify)

	if err := p.Submit(context.Background(), "change it"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(accessor.replaced) != 0 {
		t.Fatalf("invalid block must not replace the workflow")
	}
	if len(notify.errors) != 1 {
		t.Fatalf("expected one error notice, got %v", notify.errors)
	}
}

func TestSubmitStreamFailureShowsApology(t *testing.T) {
	stream := &scriptStreamer{
		chunks:    []string{"partial answer"},
		streamErr: errors.New("relay unavailable"),
	}
	accessor := &fakeAccessor{doc: emptyDoc()}
	notify := &fakeNotifier{}
	p := New(stream, accessor, notify)

	if err := p.Submit(context.Background(), "hello"); err != nil {
		t.Fatalf("stream failures must be absorbed, got %v", err)
	}
	msgs := p.Messages()
	if msgs[len(msgs)-1].Text != assistantFailureText {
		t.Fatalf("assistant message should carry the failure text, got %q", msgs[len(msgs)-1].Text)
	}
	if len(accessor.replaced) != 0 {
		t.Fatalf("workflow must not change on failure")
	}
}

func TestSubmitPromptIncludesWorkflowSnapshot(t *testing.T) {
	stream := &scriptStreamer{chunks: []string{"ok"}}
	accessor := &fakeAccessor{doc: &workflow.Document{
		Name:        "Existing",
		Nodes:       []workflow.Node{{Name: "Cron", Type: "schedule"}},
		Connections: map[string]any{},
	}}
	p := New(stream, accessor, &fakeNotifier{})

	if err := p.Submit(context.Background(), "add an email step"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !strings.HasPrefix(stream.gotMessage, "Current workflow:\n") {
		t.Fatalf("prompt should start with the workflow snapshot, got %q", stream.gotMessage)
	}
	if !strings.Contains(stream.gotMessage, "\"Cron\"") {
		t.Fatalf("prompt should embed the serialized workflow, got %q", stream.gotMessage)
	}
	if !strings.Contains(stream.gotMessage, "Question: add an email step") {
		t.Fatalf("prompt should end with the question, got %q", stream.gotMessage)
	}
}

func TestSubmitWithNoWorkflowUsesEmptyDocument(t *testing.T) {
	stream := &scriptStreamer{chunks: []string{"ok"}}
	accessor := &fakeAccessor{currentErr: workflow.ErrNoWorkflow}
	p := New(stream, accessor, &fakeNotifier{})

	if err := p.Submit(context.Background(), "start from scratch"); err != nil {
		t.Fatalf("missing workflow should not block a turn: %v", err)
	}
	if !strings.Contains(stream.gotMessage, `"nodes": []`) && !strings.Contains(stream.gotMessage, `"nodes":[]`) {
		t.Fatalf("prompt should embed an empty document, got %q", stream.gotMessage)
	}
}

func TestHistoryExcludesEmptyAssistantMessages(t *testing.T) {
	// First turn completes with no text at all, leaving an empty assistant
	// message behind.
	silent := &scriptStreamer{}
	accessor := &fakeAccessor{doc: emptyDoc()}
	p := New(silent, accessor, &fakeNotifier{})
	if err := p.Submit(context.Background(), "first question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	second := &scriptStreamer{chunks: []string{"answer"}}
	p.stream = second
	if err := p.Submit(context.Background(), "second question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	for _, msg := range second.gotHistory {
		if msg.Role == models.RoleAssistant && strings.TrimSpace(msg.Content) == "" {
			t.Fatalf("empty assistant message leaked into history: %+v", second.gotHistory)
		}
	}
	if len(second.gotHistory) != 2 {
		t.Fatalf("expected the two user messages only, got %+v", second.gotHistory)
	}
}

func TestSubmitRejectsEmptyQuestion(t *testing.T) {
	p := New(&scriptStreamer{}, &fakeAccessor{doc: emptyDoc()}, &fakeNotifier{})
	if err := p.Submit(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank question")
	}
	if len(p.Messages()) != 0 {
		t.Fatalf("no messages should be appended for a rejected question")
	}
}
