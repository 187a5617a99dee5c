package jupyter

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/aretw0/kernelctx/pkg/domain"
)

// wireMessage is a kernel protocol message as carried on the channels WebSocket.
type wireMessage struct {
	Header       domain.Header   `json:"header"`
	ParentHeader json.RawMessage `json:"parent_header"`
	Metadata     map[string]any  `json:"metadata"`
	Content      json.RawMessage `json:"content"`
	Channel      string          `json:"channel"`
	Buffers      []any           `json:"buffers"`
}

type executeRequest struct {
	Code            string         `json:"code"`
	Silent          bool           `json:"silent"`
	StoreHistory    bool           `json:"store_history"`
	UserExpressions map[string]any `json:"user_expressions"`
	AllowStdin      bool           `json:"allow_stdin"`
	StopOnError     bool           `json:"stop_on_error"`
}

type statusContent struct {
	ExecutionState string `json:"execution_state"`
}

type streamContent struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type resultContent struct {
	Data map[string]json.RawMessage `json:"data"`
}

type errorContent struct {
	Status    string   `json:"status"`
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// parentID extracts parent_header.msg_id, tolerating the empty object the
// kernel sends for unsolicited messages.
func (m *wireMessage) parentID() string {
	if len(m.ParentHeader) == 0 {
		return ""
	}
	var h struct {
		MsgID string `json:"msg_id"`
	}
	if err := json.Unmarshal(m.ParentHeader, &h); err != nil {
		return ""
	}
	return h.MsgID
}

// decodeResult turns an execute_result mime bundle into a value.
// application/json is used as is. text/plain is parsed as JSON when possible
// (twice when it holds a JSON document serialised as a string) and otherwise
// kept as the raw text.
func decodeResult(data map[string]json.RawMessage) any {
	if raw, ok := data["application/json"]; ok {
		if v, err := decodeJSON(raw); err == nil {
			return v
		}
	}

	raw, ok := data["text/plain"]
	if !ok {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	return parsePlain(text)
}

func parsePlain(text string) any {
	text = unquoteRepr(strings.TrimSpace(text))

	v, err := decodeJSON([]byte(text))
	if err != nil {
		return text
	}
	if s, ok := v.(string); ok {
		if inner, err := decodeJSON([]byte(s)); err == nil {
			return inner
		}
	}
	return v
}

// unquoteRepr strips the single quotes of a Python str repr.
func unquoteRepr(s string) string {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return s
	}
	r := strings.NewReplacer(`\\`, `\`, `\'`, `'`)
	return r.Replace(s[1 : len(s)-1])
}

func decodeJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, &json.SyntaxError{}
	}
	return v, nil
}
