// Package client implements the caller side of the AI chat protocol: one-shot
// completions and streamed completions over HTTP or WebSocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xiaot623/aichat/protocol"
	"github.com/xiaot623/aichat/protocol/wire"
)

const maxErrorBody = 64 * 1024

// ErrEndpointRequired is returned by NewClient when no endpoint is given.
var ErrEndpointRequired = errors.New("chat endpoint must be set")

// Client is an AI chat protocol client. It is safe for concurrent use; every
// call owns its request and response.
type Client struct {
	endpoint       string
	streamEndpoint string
	wsEndpoint     string
	httpClient     *http.Client
	dialer         *websocket.Dialer
	header         http.Header
	logger         *slog.Logger
	timeout        time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for both exchanges.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds the whole exchange, including reading a streamed body.
// It applies to a copy of the configured HTTP client regardless of option
// order; a client passed to WithHTTPClient is never modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// WithStreamEndpoint overrides the streaming URL (default: endpoint + "/stream").
func WithStreamEndpoint(u string) Option {
	return func(c *Client) { c.streamEndpoint = u }
}

// WithWebSocketEndpoint overrides the WebSocket URL (default: endpoint + "/ws" on ws/wss).
func WithWebSocketEndpoint(u string) Option {
	return func(c *Client) { c.wsEndpoint = u }
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a client for the chat endpoint at endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, ErrEndpointRequired
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse chat endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("chat endpoint must be http or https, got %q", u.Scheme)
	}

	c := &Client{
		endpoint:       endpoint,
		streamEndpoint: endpoint + "/stream",
		wsEndpoint:     websocketURL(u),
		httpClient:     &http.Client{},
		dialer:         websocket.DefaultDialer,
		header:         make(http.Header),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c, nil
}

func websocketURL(u *url.URL) string {
	ws := *u
	if u.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	ws.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return ws.String()
}

// Complete sends req and returns the decoded completion.
//
// A non-2xx status yields *protocol.TransportError carrying the status and body;
// a body that does not match the schema yields *protocol.DecodeError; a
// cancelled ctx yields *protocol.CancelledError.
func (c *Client) Complete(ctx context.Context, req *protocol.Request) (*protocol.Completion, error) {
	resp, err := c.send(ctx, c.endpoint, req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("read response: %w", err))
	}
	if c.logger.Enabled(ctx, slog.LevelDebug) {
		c.logger.DebugContext(ctx, "chat response body", "status", resp.StatusCode, "body", string(data))
	}

	var completion protocol.Completion
	if err := json.Unmarshal(data, &completion); err != nil {
		return nil, &protocol.DecodeError{Err: fmt.Errorf("decode completion: %w", err)}
	}
	if completion.Message.Role == "" {
		return nil, &protocol.DecodeError{Err: errors.New("completion has no message role")}
	}
	if completion.Message.Role != protocol.RoleAssistant {
		c.logger.WarnContext(ctx, "completion carries a non-assistant role", "role", completion.Message.Role)
	}
	return &completion, nil
}

// CompleteStreaming sends req to the streaming endpoint and returns a stream of
// deltas. The caller must drain or Close the stream.
func (c *Client) CompleteStreaming(ctx context.Context, req *protocol.Request) (*Stream, error) {
	resp, err := c.send(ctx, c.streamEndpoint, req, wire.ContentTypeNDJSON)
	if err != nil {
		return nil, err
	}
	return newStream(ctx, &bodyFrames{body: resp.Body, reader: wire.NewFrameReader(resp.Body)}, c.logger), nil
}

// CompleteStreamingWS streams a completion over a WebSocket. Attachments travel
// inline in the JSON request.
func (c *Client) CompleteStreamingWS(ctx context.Context, req *protocol.Request) (*Stream, error) {
	if err := c.precheck(ctx, req); err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	c.logger.DebugContext(ctx, "dialing chat websocket", "url", c.wsEndpoint)
	conn, resp, err := c.dialer.DialContext(ctx, c.wsEndpoint, c.header)
	if err != nil {
		if cerr := protocol.Cancelled(ctx); cerr != nil {
			return nil, cerr
		}
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, &protocol.TransportError{StatusCode: resp.StatusCode, Body: body, Err: err}
		}
		return nil, &protocol.TransportError{Err: fmt.Errorf("dial websocket: %w", err)}
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, c.transportError(ctx, fmt.Errorf("write request: %w", err))
	}
	return newStream(ctx, &wsFrames{conn: conn}, c.logger), nil
}

func (c *Client) precheck(ctx context.Context, req *protocol.Request) error {
	if err := protocol.Cancelled(ctx); err != nil {
		return err
	}
	if req == nil {
		return &protocol.EncodeError{Err: protocol.ErrNoMessages}
	}
	if err := req.Validate(); err != nil {
		return &protocol.EncodeError{Err: err}
	}
	return nil
}

// send encodes and dispatches req, returning a response with a 2xx status.
func (c *Client) send(ctx context.Context, target string, req *protocol.Request, accept string) (*http.Response, error) {
	if err := c.precheck(ctx, req); err != nil {
		return nil, err
	}
	body, err := wire.Encode(ctx, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body.Data))
	if err != nil {
		return nil, &protocol.EncodeError{Err: fmt.Errorf("create request: %w", err)}
	}
	for k, vs := range c.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Content-Type", body.ContentType)
	httpReq.Header.Set("Accept", accept)

	c.logger.DebugContext(ctx, "sending chat request", "url", target, "multipart", body.Multipart(), "bytes", len(body.Data))
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, fmt.Errorf("send request: %w", err))
	}
	c.logger.DebugContext(ctx, "received chat response", "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			if cerr := protocol.Cancelled(ctx); cerr != nil {
				return nil, cerr
			}
		}
		return nil, &protocol.TransportError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return resp, nil
}

// transportError classifies err, preferring cancellation when ctx is done.
func (c *Client) transportError(ctx context.Context, err error) error {
	if cerr := protocol.Cancelled(ctx); cerr != nil {
		return cerr
	}
	return &protocol.TransportError{Err: err}
}
