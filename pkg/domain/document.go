package domain

import (
	"encoding/json"
	"time"
)

// Document is a nested key-value document as returned by a storage service.
// Its shape is never inspected by the contexts.
type Document map[string]any

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = cloneValue(sub)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = cloneValue(sub)
		}
		return out
	case json.RawMessage:
		out := make(json.RawMessage, len(val))
		copy(out, val)
		return out
	default:
		return val
	}
}

// SessionState is the per-context snapshot kept between requests.
type SessionState struct {
	ID         string         `json:"id"`
	Context    string         `json:"context"`
	DocumentID string         `json:"document_id,omitempty"`
	VarName    string         `json:"var_name,omitempty"`
	Document   Document       `json:"document,omitempty"`
	Original   Document       `json:"original,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Ready      bool           `json:"ready"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewSessionState creates an empty, not yet loaded, state.
func NewSessionState(id, context string) *SessionState {
	return &SessionState{
		ID:        id,
		Context:   context,
		UpdatedAt: time.Now(),
	}
}

// Load records a freshly fetched document. The original copy is taken here and
// is not modified afterwards.
func (s *SessionState) Load(documentID string, doc Document) {
	s.DocumentID = documentID
	s.Document = doc
	s.Original = doc.Clone()
	s.Ready = true
	s.touch()
}

// Replace swaps the current document wholesale, leaving the original untouched.
func (s *SessionState) Replace(doc Document) {
	s.Document = doc
	s.touch()
}

// Reset restores the current document from the original.
func (s *SessionState) Reset() {
	s.Document = s.Original.Clone()
	s.touch()
}

// Changes returns the difference between the original and the current document.
func (s *SessionState) Changes() *DocumentDiff {
	return Diff(s.Original, s.Document)
}

func (s *SessionState) touch() {
	s.UpdatedAt = time.Now()
}
