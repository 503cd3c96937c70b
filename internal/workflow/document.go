package workflow

import (
	"encoding/json"
	"errors"
)

// Node is one step of a workflow.
type Node struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Position   []float64      `json:"position,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Document is a complete workflow definition. Connections keep their raw
// shape; the copilot treats them as opaque.
type Document struct {
	Name        string         `json:"name,omitempty"`
	Nodes       []Node         `json:"nodes"`
	Connections map[string]any `json:"connections"`
}

var errNotWorkflow = errors.New("not a workflow document")

// Decode parses raw JSON as a workflow document. The shape check is minimal:
// an object with an array-valued "nodes" field qualifies.
func Decode(raw string) (*Document, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, errNotWorkflow
	}
	nodesRaw, ok := probe["nodes"]
	if !ok {
		return nil, errNotWorkflow
	}
	var nodesProbe []json.RawMessage
	if err := json.Unmarshal(nodesRaw, &nodesProbe); err != nil {
		return nil, errNotWorkflow
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errNotWorkflow
	}
	if doc.Connections == nil {
		doc.Connections = map[string]any{}
	}
	return &doc, nil
}

// Encode serializes the document for prompts and storage.
func (d *Document) Encode() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
