// Package jupyter implements ports.Interpreter against a Jupyter kernel,
// using the REST API to start kernels and the channels WebSocket to run code.
package jupyter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/kernelctx/internal/logging"
	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultKernel is the kernel spec started when none is configured.
const DefaultKernel = "python3"

// Interpreter runs code on one Jupyter kernel session.
type Interpreter struct {
	baseURL  string
	token    string
	username string
	kernel   string
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *slog.Logger

	kernelID   string
	ownsKernel bool
	session    string
	conn       *websocket.Conn

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]*request
	done    chan struct{}
	readErr error
	closed  bool
}

type request struct {
	kind   domain.CallKind
	result domain.Evaluation
	err    error
	done   chan struct{}
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithToken authenticates with a Jupyter server token.
func WithToken(token string) Option {
	return func(i *Interpreter) {
		i.token = token
	}
}

// WithKernelName selects the kernel spec to start (e.g. "python3", "julia-1.10").
func WithKernelName(name string) Option {
	return func(i *Interpreter) {
		if name != "" {
			i.kernel = name
		}
	}
}

// WithKernelID attaches to an already running kernel instead of starting one.
// The kernel is left running on Close.
func WithKernelID(id string) Option {
	return func(i *Interpreter) {
		i.kernelID = id
	}
}

// WithUsername sets the username stamped on request headers.
func WithUsername(name string) Option {
	return func(i *Interpreter) {
		i.username = name
	}
}

// WithHTTPClient replaces http.DefaultClient for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(i *Interpreter) {
		i.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Interpreter) {
		i.logger = logger
	}
}

// Start connects to the Jupyter server at baseURL, starting a kernel unless
// WithKernelID is given.
func Start(ctx context.Context, baseURL string, opts ...Option) (*Interpreter, error) {
	if baseURL == "" {
		return nil, &domain.ConfigurationError{Key: "JUPYTER_URL"}
	}
	i := &Interpreter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		kernel:   DefaultKernel,
		username: "kernelctx",
		http:     http.DefaultClient,
		dialer:   websocket.DefaultDialer,
		logger:   logging.NewNop(),
		session:  uuid.NewString(),
		pending:  make(map[string]*request),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}

	if i.kernelID == "" {
		id, err := i.startKernel(ctx)
		if err != nil {
			return nil, err
		}
		i.kernelID = id
		i.ownsKernel = true
	}

	if err := i.dial(ctx); err != nil {
		if i.ownsKernel {
			_ = i.shutdownKernel(context.WithoutCancel(ctx))
		}
		return nil, err
	}

	go i.readLoop()
	i.logger.Info("kernel connected", "kernel_id", i.kernelID, "kernel", i.kernel)
	return i, nil
}

// KernelID returns the ID of the attached kernel.
func (i *Interpreter) KernelID() string {
	return i.kernelID
}

func (i *Interpreter) startKernel(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"name": i.kernel})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/api/kernels", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	i.authorize(req.Header)

	resp, err := i.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to start kernel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to start kernel %s: status %d", i.kernel, resp.StatusCode)
	}

	var k struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&k); err != nil || k.ID == "" {
		return "", fmt.Errorf("failed to start kernel %s: malformed response", i.kernel)
	}
	return k.ID, nil
}

func (i *Interpreter) shutdownKernel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, i.baseURL+"/api/kernels/"+url.PathEscape(i.kernelID), nil)
	if err != nil {
		return err
	}
	i.authorize(req.Header)
	resp, err := i.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (i *Interpreter) dial(ctx context.Context) error {
	wsURL := strings.Replace(i.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = fmt.Sprintf("%s/api/kernels/%s/channels?session_id=%s", wsURL, url.PathEscape(i.kernelID), url.QueryEscape(i.session))

	header := http.Header{}
	i.authorize(header)
	conn, _, err := i.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("failed to connect to kernel %s: %w", i.kernelID, err)
	}
	i.conn = conn
	return nil
}

func (i *Interpreter) authorize(h http.Header) {
	if i.token != "" {
		h.Set("Authorization", "token "+i.token)
	}
}

// Execute implements ports.Interpreter.
func (i *Interpreter) Execute(ctx context.Context, code string, parent *domain.Header) error {
	_, err := i.run(ctx, domain.CallExecute, code, parent)
	return err
}

// Evaluate implements ports.Interpreter. The return slot holds the last
// execute_result produced by the code.
func (i *Interpreter) Evaluate(ctx context.Context, code string, parent *domain.Header) (*domain.Evaluation, error) {
	return i.run(ctx, domain.CallEvaluate, code, parent)
}

func (i *Interpreter) run(ctx context.Context, kind domain.CallKind, code string, parent *domain.Header) (*domain.Evaluation, error) {
	header := domain.NewHeader("execute_request", i.session)
	header.Username = i.username

	req := &request{kind: kind, done: make(chan struct{})}

	i.mu.Lock()
	if i.closed || i.readErr != nil {
		err := i.readErr
		i.mu.Unlock()
		return nil, closedError(err)
	}
	i.pending[header.MsgID] = req
	i.mu.Unlock()

	if err := i.send(header, parent, code); err != nil {
		i.forget(header.MsgID)
		return nil, err
	}

	select {
	case <-req.done:
		if req.err != nil {
			return nil, req.err
		}
		return &req.result, nil
	case <-ctx.Done():
		i.forget(header.MsgID)
		return nil, ctx.Err()
	}
}

func (i *Interpreter) send(header domain.Header, parent *domain.Header, code string) error {
	parentRaw := json.RawMessage(`{}`)
	if parent != nil {
		b, err := json.Marshal(parent)
		if err != nil {
			return err
		}
		parentRaw = b
	}
	content, err := json.Marshal(executeRequest{
		Code:            code,
		StoreHistory:    false,
		UserExpressions: map[string]any{},
		StopOnError:     true,
	})
	if err != nil {
		return err
	}

	msg := wireMessage{
		Header:       header,
		ParentHeader: parentRaw,
		Metadata:     map[string]any{},
		Content:      content,
		Channel:      "shell",
		Buffers:      []any{},
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()
	_ = i.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := i.conn.WriteJSON(msg); err != nil {
		return closedError(err)
	}
	return nil
}

func (i *Interpreter) forget(msgID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.pending, msgID)
}

func (i *Interpreter) readLoop() {
	defer close(i.done)
	for {
		var msg wireMessage
		if err := i.conn.ReadJSON(&msg); err != nil {
			i.fail(err)
			return
		}
		i.dispatch(&msg)
	}
}

func (i *Interpreter) dispatch(msg *wireMessage) {
	id := msg.parentID()
	if id == "" {
		return
	}

	i.mu.Lock()
	req, ok := i.pending[id]
	i.mu.Unlock()
	if !ok {
		return
	}

	switch msg.Header.MsgType {
	case "stream":
		var c streamContent
		if json.Unmarshal(msg.Content, &c) == nil {
			if c.Name == "stderr" {
				req.result.Stderr += c.Text
			} else {
				req.result.Stdout += c.Text
			}
		}
	case "execute_result":
		var c resultContent
		if json.Unmarshal(msg.Content, &c) == nil {
			req.result.Return = decodeResult(c.Data)
		}
	case "error":
		var c errorContent
		if json.Unmarshal(msg.Content, &c) == nil && req.err == nil {
			req.err = &domain.RemoteEvaluationError{Name: c.Ename, Value: c.Evalue, Traceback: c.Traceback}
		}
	case "execute_reply":
		var c errorContent
		if json.Unmarshal(msg.Content, &c) == nil && c.Status == "error" && req.err == nil {
			req.err = &domain.RemoteEvaluationError{Name: c.Ename, Value: c.Evalue, Traceback: c.Traceback}
		}
	case "status":
		var c statusContent
		if json.Unmarshal(msg.Content, &c) == nil && c.ExecutionState == "idle" {
			i.complete(id)
		}
	}
}

func (i *Interpreter) complete(id string) {
	i.mu.Lock()
	req, ok := i.pending[id]
	delete(i.pending, id)
	i.mu.Unlock()
	if ok {
		close(req.done)
	}
}

func (i *Interpreter) fail(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.closed {
		i.logger.Warn("kernel connection lost", "kernel_id", i.kernelID, "err", err)
	}
	i.readErr = err
	for id, req := range i.pending {
		req.err = closedError(err)
		close(req.done)
		delete(i.pending, id)
	}
}

// Close disconnects and shuts the kernel down if this Interpreter started it.
func (i *Interpreter) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	i.writeMu.Lock()
	_ = i.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	i.writeMu.Unlock()
	err := i.conn.Close()
	<-i.done

	if i.ownsKernel {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := i.shutdownKernel(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

func closedError(err error) error {
	if err == nil {
		return domain.ErrInterpreterClosed
	}
	return fmt.Errorf("%w: %v", domain.ErrInterpreterClosed, err)
}
