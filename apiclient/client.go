// Package apiclient talks to the kanban-studio HTTP API. Every response is
// decoded into a typed contract from package api and validated before it is
// returned.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CrowderSoup/kanban-studio/api"
)

// CookieName is the cookie the server issues the session token in.
const CookieName = "access_token"

const maxErrorBody = 64 << 10

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu      sync.RWMutex
	session *Session
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer replaces the websocket dialer used by Watch.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates a client for the server at baseURL. session may be nil until
// Login or Register is called.
func New(baseURL string, session *Session, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 10 * time.Second},
		dialer:  websocket.DefaultDialer,
		logger:  zap.NewNop(),
		session: session,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns the current session, or nil.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// Hello checks that the server is reachable.
func (c *Client) Hello(ctx context.Context) error {
	var out struct {
		Message string `json:"message"`
	}
	return c.do(ctx, http.MethodGet, "/api/hello", nil, &out)
}

// Register creates an account and starts a session for it.
func (c *Client) Register(ctx context.Context, creds api.Credentials) (*Session, error) {
	return c.authenticate(ctx, "/api/auth/register", creds)
}

// Login starts a session.
func (c *Client) Login(ctx context.Context, creds api.Credentials) (*Session, error) {
	return c.authenticate(ctx, "/api/auth/login", creds)
}

func (c *Client) authenticate(ctx context.Context, path string, creds api.Credentials) (*Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	var tok api.TokenResponse
	if err := c.do(ctx, http.MethodPost, path, creds, &tok); err != nil {
		return nil, err
	}

	username := tok.Username
	if username == "" {
		username = strings.TrimSpace(creds.Username)
	}
	s := &Session{
		Token:    tok.AccessToken,
		UserID:   tok.UserID,
		Username: username,
		IssuedAt: time.Now().UTC(),
	}
	c.setSession(s)
	return s, nil
}

// Logout revokes the session on the server and forgets it locally. The local
// session is dropped even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	if !c.Session().Valid() {
		return ErrNoSession
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.setSession(nil)
	return err
}

// CurrentUser resolves the acting identity.
func (c *Client) CurrentUser(ctx context.Context) (api.User, error) {
	var u api.User
	err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &u)
	return u, err
}

// Boards lists a user's boards with columns and cards nested.
func (c *Client) Boards(ctx context.Context, userID int64) ([]api.Board, error) {
	var boards []api.Board
	path := "/api/users/" + strconv.FormatInt(userID, 10) + "/boards"
	if err := c.do(ctx, http.MethodGet, path, nil, &boards); err != nil {
		return nil, err
	}
	for _, b := range boards {
		if err := b.Validate(); err != nil {
			return nil, &DecodeError{Method: http.MethodGet, Path: path, Err: err}
		}
	}
	return boards, nil
}

// CreateBoard creates an empty board.
func (c *Client) CreateBoard(ctx context.Context, req api.BoardCreate) (api.Board, error) {
	var b api.Board
	err := c.do(ctx, http.MethodPost, "/api/boards", req, &b)
	return b, err
}

// CreateCard creates a card and returns it with its server id.
func (c *Client) CreateCard(ctx context.Context, req api.CardCreate) (api.Card, error) {
	var card api.Card
	err := c.do(ctx, http.MethodPost, "/api/cards", req, &card)
	return card, err
}

// UpdateCard applies a partial update.
func (c *Client) UpdateCard(ctx context.Context, id int64, patch api.CardPatch) (api.Card, error) {
	var card api.Card
	err := c.do(ctx, http.MethodPatch, "/api/cards/"+strconv.FormatInt(id, 10), patch, &card)
	return card, err
}

// DeleteCard removes a card.
func (c *Client) DeleteCard(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, "/api/cards/"+strconv.FormatInt(id, 10), nil, nil)
}

// UpdateColumn applies a partial update.
func (c *Client) UpdateColumn(ctx context.Context, id int64, patch api.ColumnPatch) (api.Column, error) {
	var col api.Column
	err := c.do(ctx, http.MethodPatch, "/api/columns/"+strconv.FormatInt(id, 10), patch, &col)
	return col, err
}

// Chat sends an instruction to the assistant.
func (c *Client) Chat(ctx context.Context, req api.ChatRequest) (api.ChatResponse, error) {
	var resp api.ChatResponse
	err := c.do(ctx, http.MethodPost, "/api/ai/chat", req, &resp)
	return resp, err
}

type validator interface {
	Validate() error
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		if v, ok := body.(validator); ok {
			if err := v.Validate(); err != nil {
				return err
			}
		}
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Method: method, Path: path, Err: err}
	}
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return &DecodeError{Method: method, Path: path, Err: err}
		}
	}
	return nil
}

// authorize sends the token both as a bearer header and as the session
// cookie the browser frontend relies on.
func (c *Client) authorize(h http.Header) {
	s := c.Session()
	if !s.Valid() {
		return
	}
	h.Set("Authorization", "Bearer "+s.Token)
	h.Add("Cookie", (&http.Cookie{Name: CookieName, Value: s.Token}).String())
}

func statusError(method, path string, resp *http.Response) error {
	se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return se
	}
	var body api.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Detail != "" {
		se.Detail = body.Detail
	} else {
		se.Detail = strings.TrimSpace(string(data))
	}
	return se
}

// Watch streams change-feed events to fn until ctx is done or the connection
// drops. It returns ctx.Err() when stopped by the context.
func (c *Client) Watch(ctx context.Context, fn func(api.Event)) error {
	if !c.Session().Valid() {
		return ErrNoSession
	}

	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/ws"

	header := http.Header{}
	c.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return statusError(http.MethodGet, "/api/ws", resp)
		}
		return &TransportError{Method: http.MethodGet, Path: "/api/ws", Err: err}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return &TransportError{Method: http.MethodGet, Path: "/api/ws", Err: err}
		}

		// The server may batch several events into one frame, one per line.
		for _, line := range bytes.Split(message, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var ev api.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				c.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			if ev.Type == api.EventPong {
				continue
			}
			fn(ev)
		}
	}
}
