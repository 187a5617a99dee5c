package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the kernel messaging protocol version stamped on new headers.
const ProtocolVersion = "5.3"

// Header identifies a message. MsgID is the correlation identifier that lets a
// subscriber associate a response event with the request that caused it.
type Header struct {
	MsgID    string `json:"msg_id" mapstructure:"msg_id"`
	MsgType  string `json:"msg_type" mapstructure:"msg_type"`
	Session  string `json:"session,omitempty" mapstructure:"session"`
	Username string `json:"username,omitempty" mapstructure:"username"`
	Date     string `json:"date,omitempty" mapstructure:"date"`
	Version  string `json:"version,omitempty" mapstructure:"version"`
}

// NewHeader builds a header with a fresh correlation identifier.
func NewHeader(msgType, session string) Header {
	return Header{
		MsgID:   uuid.NewString(),
		MsgType: msgType,
		Session: session,
		Date:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: ProtocolVersion,
	}
}

// Message is an inbound request. It is consumed once and never modified.
type Message struct {
	Header       Header         `json:"header"`
	ParentHeader *Header        `json:"parent_header,omitempty"`
	Content      map[string]any `json:"content"`
}

// Action returns the operation the message asks for.
func (m Message) Action() string {
	return m.Header.MsgType
}

// Event is an outbound notification. Parent, when set, is the header of the
// request that triggered it.
type Event struct {
	Channel   string         `json:"channel"`
	Type      string         `json:"msg_type"`
	ContextID string         `json:"context_id,omitempty"`
	Content   map[string]any `json:"content"`
	Parent    *Header        `json:"parent_header,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DefaultChannel is the channel used for every context event.
const DefaultChannel = "iopub"

// EventTypeError tags events that report a failed request.
const EventTypeError = "error"

// Evaluation is the outcome of evaluating code remotely. Return holds the value
// the interpreter bound to the return slot.
type Evaluation struct {
	Return any    `json:"return"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// ReturnMap returns the return slot as a mapping, or nil if it is not one.
func (e *Evaluation) ReturnMap() map[string]any {
	if e == nil {
		return nil
	}
	m, _ := e.Return.(map[string]any)
	return m
}

// CodeCell is a code payload returned to the user for review instead of being run.
type CodeCell struct {
	Action   string `json:"action"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// NewCodeCell wraps code in a code cell payload.
func NewCodeCell(language, code string) CodeCell {
	return CodeCell{Action: "code_cell", Language: language, Content: code}
}
