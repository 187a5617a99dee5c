package jupyter_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/kernelctx/pkg/adapters/jupyter"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Header       map[string]any  `json:"header"`
	ParentHeader json.RawMessage `json:"parent_header"`
	Content      map[string]any  `json:"content"`
	Channel      string          `json:"channel"`
}

// fakeKernel speaks enough of the kernel protocol to answer execute requests.
type fakeKernel struct {
	mu       sync.Mutex
	codes    []string
	parents  []map[string]any
	deleted  bool
	token    string
	upgrader websocket.Upgrader
}

func (k *fakeKernel) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/kernels", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token "+k.token, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"k-1","name":"python3"}`))
	})
	mux.HandleFunc("DELETE /api/kernels/k-1", func(w http.ResponseWriter, r *http.Request) {
		k.mu.Lock()
		k.deleted = true
		k.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/kernels/k-1/channels", func(w http.ResponseWriter, r *http.Request) {
		conn, err := k.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req frame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			k.answer(conn, req)
		}
	})
	return mux
}

func (k *fakeKernel) answer(conn *websocket.Conn, req frame) {
	code, _ := req.Content["code"].(string)
	var parent map[string]any
	_ = json.Unmarshal(req.ParentHeader, &parent)

	k.mu.Lock()
	k.codes = append(k.codes, code)
	k.parents = append(k.parents, parent)
	k.mu.Unlock()

	reply := func(channel, msgType string, content map[string]any) {
		_ = conn.WriteJSON(map[string]any{
			"header":        map[string]any{"msg_id": "r", "msg_type": msgType},
			"parent_header": req.Header,
			"content":       content,
			"channel":       channel,
		})
	}
	// Unsolicited traffic must be ignored.
	_ = conn.WriteJSON(map[string]any{"header": map[string]any{"msg_type": "status"}, "parent_header": map[string]any{}, "content": map[string]any{"execution_state": "starting"}, "channel": "iopub"})

	reply("iopub", "status", map[string]any{"execution_state": "busy"})
	status := "ok"
	switch {
	case strings.Contains(code, "raise"):
		status = "error"
		reply("iopub", "error", map[string]any{"ename": "KeyError", "evalue": "'S'", "traceback": []string{"tb1", "tb2"}})
	case strings.Contains(code, "print"):
		reply("iopub", "stream", map[string]any{"name": "stdout", "text": "hello\n"})
		reply("iopub", "stream", map[string]any{"name": "stderr", "text": "warn\n"})
	case strings.Contains(code, "as_json"):
		reply("iopub", "execute_result", map[string]any{"data": map[string]any{"application/json": map[string]any{"n": 2}, "text/plain": "ignored"}})
	case strings.Contains(code, "dumps"):
		reply("iopub", "execute_result", map[string]any{"data": map[string]any{"text/plain": `'{"name": "SIR", "it\'s": 1}'`}})
	case strings.Contains(code, "repr"):
		reply("iopub", "execute_result", map[string]any{"data": map[string]any{"text/plain": "<Model SIR>"}})
	case strings.Contains(code, "1 + 1"):
		reply("iopub", "execute_result", map[string]any{"data": map[string]any{"text/plain": "2"}})
	}
	reply("shell", "execute_reply", map[string]any{"status": status})
	reply("iopub", "status", map[string]any{"execution_state": "idle"})
}

func startKernel(t *testing.T) (*fakeKernel, *jupyter.Interpreter) {
	t.Helper()
	k := &fakeKernel{token: "tok"}
	srv := httptest.NewServer(k.handler(t))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	interp, err := jupyter.Start(ctx, srv.URL, jupyter.WithToken("tok"))
	require.NoError(t, err)
	return k, interp
}

func TestInterpreter_EvaluateReturnSlot(t *testing.T) {
	_, interp := startKernel(t)
	defer interp.Close()
	ctx := context.Background()

	cases := map[string]any{
		"1 + 1":         json.Number("2"),
		"as_json()":     map[string]any{"n": json.Number("2")},
		"json.dumps(m)": map[string]any{"name": "SIR", "it's": json.Number("1")},
		"repr(model)":   "<Model SIR>",
		"x = 1":         nil,
	}
	for code, want := range cases {
		res, err := interp.Evaluate(ctx, code, nil)
		require.NoError(t, err, code)
		assert.Equal(t, want, res.Return, code)
	}
}

func TestInterpreter_StreamsAndParentHeader(t *testing.T) {
	k, interp := startKernel(t)
	defer interp.Close()

	parent := domain.NewHeader("get_simulate", "client")
	res, err := interp.Evaluate(context.Background(), "print('hello')", &parent)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "warn\n", res.Stderr)

	k.mu.Lock()
	defer k.mu.Unlock()
	require.Len(t, k.parents, 1)
	assert.Equal(t, parent.MsgID, k.parents[0]["msg_id"])
}

func TestInterpreter_RemoteError(t *testing.T) {
	_, interp := startKernel(t)
	defer interp.Close()

	err := interp.Execute(context.Background(), "raise KeyError('S')", nil)
	require.Error(t, err)
	var remote *domain.RemoteEvaluationError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "KeyError", remote.Name)
	assert.Equal(t, "'S'", remote.Value)
	assert.Equal(t, []string{"tb1", "tb2"}, remote.Traceback)
}

func TestInterpreter_OrderAndClose(t *testing.T) {
	k, interp := startKernel(t)
	ctx := context.Background()

	for _, code := range []string{"a = 1", "b = 2", "c = 3"} {
		require.NoError(t, interp.Execute(ctx, code, nil))
	}
	require.NoError(t, interp.Close())

	k.mu.Lock()
	assert.Equal(t, []string{"a = 1", "b = 2", "c = 3"}, k.codes)
	assert.True(t, k.deleted, "owned kernel must be shut down")
	k.mu.Unlock()

	err := interp.Execute(ctx, "d = 4", nil)
	assert.ErrorIs(t, err, domain.ErrInterpreterClosed)
}

func TestStart_RequiresURL(t *testing.T) {
	_, err := jupyter.Start(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
