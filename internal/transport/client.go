// Package transport implements the Transport Client (C1): one per workstream,
// opening a session against the remote agent over HTTP+SSE and correlating
// outbound requests with inbound responses.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/opslane/workstream-coordinator/internal/common/logger"
	"github.com/opslane/workstream-coordinator/internal/protocol"
	"go.uber.org/zap"
)

// RequestHandler handles a peer-initiated request and returns the result to
// place on the response envelope, or an error to place on the error envelope.
type RequestHandler func(ctx context.Context, id any, method string, params json.RawMessage) (result any, err error)

// MessageHandler handles an inbound notification or an unhandled request
// (general message fallback).
type MessageHandler func(e *protocol.Envelope)

// ErrorHandler is invoked on a network or parse error affecting the SSE channel.
type ErrorHandler func(err error)

// Client is the per-workstream HTTP+SSE transport client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger

	requestID atomic.Int64
	mu        sync.Mutex
	pending   map[any]chan *protocol.Envelope

	sessionID string
	connected atomic.Bool

	handlerMu       sync.RWMutex
	requestHandlers map[string]RequestHandler
	messageHandlers []MessageHandler
	errorHandlers   []ErrorHandler

	cancelStream context.CancelFunc
	done         chan struct{}
}

// NewClient creates a transport client addressing the given base URL (the
// `{base}` in spec.md §6's endpoint paths).
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		log:             log.WithFields(zap.String("component", "transport-client")),
		pending:         make(map[any]chan *protocol.Envelope),
		requestHandlers: make(map[string]RequestHandler),
		done:            make(chan struct{}),
	}
}

// RegisterRequestHandler registers the handler invoked for peer-initiated
// requests matching method (e.g. "request_permission").
func (c *Client) RegisterRequestHandler(method string, handler RequestHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.requestHandlers[method] = handler
}

// OnMessage registers a handler invoked for notifications and for requests
// with no registered handler.
func (c *Client) OnMessage(handler MessageHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.messageHandlers = append(c.messageHandlers, handler)
}

// OnError registers a handler invoked on SSE network/parse errors.
func (c *Client) OnError(handler ErrorHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.errorHandlers = append(c.errorHandlers, handler)
}

// Connect opens the session (POST /acp/session) and starts the inbound SSE
// pump (GET /acp/session/{id}/stream). Returns the server-issued session id.
func (c *Client) Connect(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/acp/session", nil)
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("open session: %s", resp.Status)
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}

	c.sessionID = body.SessionID

	streamCtx, cancel := context.WithCancel(context.Background())
	c.cancelStream = cancel
	c.connected.Store(true)

	go c.pumpStream(streamCtx)

	return c.sessionID, nil
}

// SendRequest sends a client-initiated request and blocks for the matching response.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !c.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := c.requestID.Add(1)

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	envelope := &protocol.Envelope{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}

	respCh := make(chan *protocol.Envelope, 1)
	c.mu.Lock()
	c.pending[normalizeID(id)] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, normalizeID(id))
		c.mu.Unlock()
	}()

	if err := c.postMessage(ctx, envelope); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s", resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("not connected")
	}
}

// SendNotification sends a notification; no response is expected.
func (c *Client) SendNotification(ctx context.Context, method string, params any) error {
	if !c.connected.Load() {
		return fmt.Errorf("not connected")
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return err
	}
	envelope := &protocol.Envelope{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	return c.postMessage(ctx, envelope)
}

// SendResponse sends a response to a peer-initiated request.
func (c *Client) SendResponse(ctx context.Context, id any, result any, respErr *protocol.EnvelopeError) error {
	var resultJSON json.RawMessage
	if result != nil && respErr == nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = data
	}
	envelope := &protocol.Envelope{JSONRPC: "2.0", ID: id, Result: resultJSON, Error: respErr}
	return c.postMessage(ctx, envelope)
}

// Disconnect closes the SSE stream and cancels the context handed to running
// request handlers. A SendRequest still waiting for its response returns a
// "not connected" error.
func (c *Client) Disconnect() {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	if c.cancelStream != nil {
		c.cancelStream()
	}
	close(c.done)
}

func (c *Client) postMessage(ctx context.Context, envelope *protocol.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	url := fmt.Sprintf("%s/acp/session/%s/message", c.baseURL, c.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("sent envelope", zap.String("data", string(data)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send message: %s", resp.Status)
	}
	return nil
}

func (c *Client) pumpStream(ctx context.Context) {
	url := fmt.Sprintf("%s/acp/session/%s/stream", c.baseURL, c.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.emitError(fmt.Errorf("build stream request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.emitError(fmt.Errorf("open stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.emitError(fmt.Errorf("open stream: %s", resp.Status))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		c.log.Debug("received envelope", zap.String("data", payload))

		var envelope protocol.Envelope
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			c.log.Warn("failed to parse SSE envelope", zap.Error(err), zap.String("data", payload))
			continue
		}

		c.dispatch(ctx, &envelope)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.emitError(fmt.Errorf("stream read error: %w", err))
	}
}

// dispatch classifies an inbound envelope by field presence and routes it per
// the correlation rules in SPEC_FULL.md §4.1.
func (c *Client) dispatch(ctx context.Context, e *protocol.Envelope) {
	switch {
	case e.IsResponse():
		c.resolveResponse(e)
	case e.IsRequest():
		c.dispatchRequest(ctx, e)
	default:
		c.dispatchMessage(e)
	}
}

func (c *Client) resolveResponse(e *protocol.Envelope) {
	id := normalizeID(e.ID)
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.log.Warn("received response for unknown request", zap.Any("id", e.ID))
		return
	}
	ch <- e
}

func (c *Client) dispatchRequest(ctx context.Context, e *protocol.Envelope) {
	c.handlerMu.RLock()
	handler, ok := c.requestHandlers[e.Method]
	c.handlerMu.RUnlock()

	if !ok {
		c.dispatchMessage(e)
		return
	}

	go func() {
		result, err := handler(ctx, e.ID, e.Method, e.Params)
		if err != nil {
			_ = c.SendResponse(ctx, e.ID, nil, &protocol.EnvelopeError{
				Code:    protocol.CodeHandlerError,
				Message: err.Error(),
			})
			return
		}
		_ = c.SendResponse(ctx, e.ID, result, nil)
	}()
}

func (c *Client) dispatchMessage(e *protocol.Envelope) {
	c.handlerMu.RLock()
	handlers := append([]MessageHandler(nil), c.messageHandlers...)
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (c *Client) emitError(err error) {
	c.handlerMu.RLock()
	handlers := append([]ErrorHandler(nil), c.errorHandlers...)
	c.handlerMu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

// normalizeID converts JSON-unmarshaled ids (float64) to a consistent type for
// map lookups against int64 ids we mint ourselves.
func normalizeID(id any) any {
	switch v := id.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
	}
	return id
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}
