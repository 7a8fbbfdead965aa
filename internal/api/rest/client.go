// Package rest implements the api ports over the Sum-Arte REST backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"sumarte/internal/api"
	"sumarte/internal/log"
)

// ErrForeignLink is returned when a paginated reply points outside the
// backend.
var ErrForeignLink = errors.New("link points outside the backend")

// maxPages bounds how many "next" links a list call follows.
const maxPages = 50

// Backend is the unauthenticated entry point. It is safe for concurrent use.
type Backend struct {
	baseURL *url.URL
	http    *http.Client
	logger  *log.Logger
}

// New returns a Backend rooted at baseURL, e.g. "http://localhost:8000".
func New(baseURL string, timeout time.Duration, logger *log.Logger) (*Backend, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", baseURL)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Backend{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithComponent(log.ComponentAPI),
	}, nil
}

var _ api.Backend = (*Backend)(nil)

// ClientFor binds a token pair to a new Client.
func (b *Backend) ClientFor(tok *oauth2.Token, onRefresh func(*oauth2.Token)) api.Client {
	return &Client{backend: b, token: tok, onRefresh: onRefresh}
}

// Login exchanges credentials for a token pair.
func (b *Backend) Login(ctx context.Context, username, password string) (*oauth2.Token, error) {
	var pair tokenPair
	body := map[string]string{"username": username, "password": password}
	if err := b.call(ctx, http.MethodPost, "/api/token/", nil, body, nil, &pair); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return nil, &api.BusinessError{Status: http.StatusUnauthorized, Message: "invalid username or password"}
		}
		return nil, err
	}
	return newToken(pair, ""), nil
}

// Refresh trades a refresh token for a new access token. The backend may
// rotate the refresh token; if it does not, the old one is kept.
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	var pair tokenPair
	body := map[string]string{"refresh": refreshToken}
	if err := b.call(ctx, http.MethodPost, "/api/token/refresh/", nil, body, nil, &pair); err != nil {
		return nil, err
	}
	return newToken(pair, refreshToken), nil
}

func newToken(pair tokenPair, previousRefresh string) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		TokenType:    "Bearer",
		Expiry:       AccessExpiry(pair.Access),
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = previousRefresh
	}
	return tok
}

// AccessExpiry reads the exp claim without verifying the signature. The
// backend verifies; the client only needs to know when to refresh.
func AccessExpiry(access string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// call performs one request. tok may be nil for public endpoints. in is
// JSON-encoded unless it is a *multipartBody. out, when non-nil, receives
// the decoded body; a **rawResponse receives the response as is.
func (b *Backend) call(ctx context.Context, method, path string, query url.Values, in any, tok *oauth2.Token, out any) error {
	req, err := b.newRequest(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	if tok != nil {
		tok.SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := b.http.Do(req)
	if err != nil {
		b.logger.WarnContext(ctx, "Backend request failed",
			log.FieldMethod, method, log.FieldBackendPath, path, log.FieldErrorType, log.ErrorTypeNetwork, log.FieldError, err)
		return &api.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &api.NetworkError{Err: err}
	}

	b.logger.DebugContext(ctx, "Backend request",
		log.FieldMethod, method, log.FieldBackendPath, path,
		log.FieldStatusCode, resp.StatusCode, log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data)
	}

	switch o := out.(type) {
	case nil:
		return nil
	case *rawResponse:
		o.Header = resp.Header.Clone()
		o.Body = data
		return nil
	default:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return nil
	}
}

func (b *Backend) newRequest(ctx context.Context, method, path string, query url.Values, in any) (*http.Request, error) {
	target, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch v := in.(type) {
	case nil:
	case *multipartBody:
		body = v.buf
		contentType = v.contentType
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// resolve accepts a path or an absolute "next" URL from a paginated reply.
// Absolute URLs must stay on the backend's scheme and host, since the
// bearer token goes with them.
func (b *Backend) resolve(path string) (string, error) {
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		return b.baseURL.String() + path, nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid page link %q: %w", path, err)
	}
	if !strings.EqualFold(u.Scheme, b.baseURL.Scheme) || !strings.EqualFold(u.Host, b.baseURL.Host) {
		return "", fmt.Errorf("%w: page link %s", ErrForeignLink, u.Redacted())
	}
	return path, nil
}

type rawResponse struct {
	Header http.Header
	Body   []byte
}

// decodeError maps a non-2xx reply onto the api taxonomy.
func decodeError(status int, data []byte) error {
	if status == http.StatusUnauthorized {
		return api.ErrUnauthorized
	}

	var generic map[string]json.RawMessage
	_ = json.Unmarshal(data, &generic)

	for _, key := range []string{"error", "detail"} {
		if raw, ok := generic[key]; ok {
			if msg := flattenMessages(raw); len(msg) > 0 {
				return &api.BusinessError{Status: status, Message: strings.Join(msg, "; ")}
			}
		}
	}

	if status == http.StatusBadRequest && len(generic) > 0 {
		fields := make(map[string][]string, len(generic))
		for k, raw := range generic {
			if msgs := flattenMessages(raw); len(msgs) > 0 {
				fields[k] = msgs
			}
		}
		if len(fields) > 0 {
			return &api.ValidationError{Fields: fields}
		}
	}

	msg := http.StatusText(status)
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}
	return &api.BusinessError{Status: status, Message: msg}
}

// flattenMessages turns "msg", ["a","b"] or nested objects into a list.
func flattenMessages(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			out = append(out, flattenMessages(item)...)
		}
		return out
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		var out []string
		for k, v := range obj {
			for _, m := range flattenMessages(v) {
				out = append(out, k+": "+m)
			}
		}
		return out
	}
	return nil
}

// Client is an authenticated session against the backend.
type Client struct {
	backend   *Backend
	onRefresh func(*oauth2.Token)

	mu    sync.Mutex
	token *oauth2.Token
}

var _ api.Client = (*Client)(nil)

// Token returns the current token pair.
func (c *Client) Token() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// do sends an authenticated request. An expired access token is refreshed
// before sending. A 401 triggers one refresh and one replay; a second
// failure is ErrSessionExpired.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in any, out any) error {
	tok := c.Token()
	if tok == nil {
		return api.ErrSessionExpired
	}
	if !tok.Expiry.IsZero() && !tok.Valid() {
		var err error
		if tok, err = c.refresh(ctx, tok); err != nil {
			return err
		}
	}

	err := c.backend.call(ctx, method, path, query, replayable(in), tok, out)
	if !errors.Is(err, api.ErrUnauthorized) {
		return err
	}

	tok, err = c.refresh(ctx, tok)
	if err != nil {
		return err
	}
	err = c.backend.call(ctx, method, path, query, replayable(in), tok, out)
	if errors.Is(err, api.ErrUnauthorized) {
		return api.ErrSessionExpired
	}
	return err
}

// refresh swaps stale for a new token unless another request already did.
func (c *Client) refresh(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != nil && c.token.AccessToken != stale.AccessToken {
		return c.token, nil
	}
	if stale.RefreshToken == "" {
		return nil, api.ErrSessionExpired
	}

	fresh, err := c.backend.Refresh(ctx, stale.RefreshToken)
	if err != nil {
		c.backend.logger.WarnContext(ctx, "Token refresh failed",
			log.FieldOperation, log.OpRefresh, log.FieldErrorType, log.ErrorTypeAuth, log.FieldError, err)
		return nil, api.ErrSessionExpired
	}
	c.token = fresh
	if c.onRefresh != nil {
		c.onRefresh(fresh)
	}
	return fresh, nil
}

// replayable rewinds a multipart body so the same request can be sent
// twice.
func replayable(in any) any {
	if mb, ok := in.(*multipartBody); ok {
		return mb.rewind()
	}
	return in
}

// getList fetches a collection, following pagination links.
func getList[W any, T any](ctx context.Context, c *Client, path string, query url.Values, conv func(W) T) ([]T, error) {
	out := []T{}
	next := path
	for i := 0; next != "" && i < maxPages; i++ {
		var raw rawResponse
		q := query
		if i > 0 {
			q = nil
		}
		if err := c.do(ctx, http.MethodGet, next, q, nil, &raw); err != nil {
			return nil, err
		}
		items, link, err := decodeList[W](raw.Body)
		if err != nil {
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		for _, w := range items {
			out = append(out, conv(w))
		}
		next = link
	}
	return out, nil
}

// send performs a request whose reply is a single object.
func send[W any, T any](ctx context.Context, c *Client, method, path string, in any, conv func(W) T) (T, error) {
	var raw rawResponse
	var zero T
	if err := c.do(ctx, method, path, nil, in, &raw); err != nil {
		return zero, err
	}
	if len(bytes.TrimSpace(raw.Body)) == 0 {
		return zero, nil
	}
	w, err := decodeOne[W](raw.Body)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return conv(w), nil
}
