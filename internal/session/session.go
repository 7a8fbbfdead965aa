// Package session ties a browser cookie to a backend token pair stored in
// sqlite. Each request loads its own Session, which owns the API client
// acting for that user.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"sumarte/internal/api"
	"sumarte/internal/core"
	"sumarte/internal/log"
	"sumarte/internal/storage"
)

// CookieName is the opaque session cookie.
const CookieName = "sumarte_session"

// ErrNoSession means the request carries no live session.
var ErrNoSession = errors.New("no active session")

// Store persists session records. *storage.SQLiteRepository implements it.
type Store interface {
	CreateSession(ctx context.Context, s storage.SessionRecord) error
	GetSession(ctx context.Context, id string) (storage.SessionRecord, error)
	UpdateSessionTokens(ctx context.Context, id, access, refresh string, accessExpiry time.Time) error
	DeleteSession(ctx context.Context, id string) error
}

// Session is the per-request view of a logged-in user.
type Session struct {
	ID     string
	User   core.User
	Client api.Client
}

type Options struct {
	TTL          time.Duration
	SecureCookie bool
}

type Manager struct {
	store   Store
	backend api.Backend
	opts    Options
	logger  *log.Logger
	now     func() time.Time
}

func NewManager(store Store, backend api.Backend, opts Options, logger *log.Logger) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{
		store:   store,
		backend: backend,
		opts:    opts,
		logger:  logger.WithComponent(log.ComponentSession),
		now:     time.Now,
	}
}

// Login authenticates against the backend, persists the token pair and
// sets the cookie.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, username, password string) (*Session, error) {
	tok, err := m.backend.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	user, err := DecodeUser(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	if user.Username == "" {
		user.Username = username
	}

	now := m.now()
	rec := storage.SessionRecord{
		ID:           uuid.NewString(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccessExpiry: tok.Expiry,
		User:         user,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.opts.TTL),
	}
	if err := m.store.CreateSession(ctx, rec); err != nil {
		return nil, err
	}
	m.setCookie(w, rec.ID, rec.ExpiresAt)
	m.logger.InfoContext(ctx, "Session created", log.FieldUser, user.Username, log.FieldSessionID, shortID(rec.ID))

	return &Session{ID: rec.ID, User: user, Client: m.backend.ClientFor(tok, m.persist(rec.ID))}, nil
}

// Load returns the session for r, or ErrNoSession.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	rec, err := m.store.GetSession(r.Context(), c.Value)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       rec.AccessExpiry,
	}
	return &Session{ID: rec.ID, User: rec.User, Client: m.backend.ClientFor(tok, m.persist(rec.ID))}, nil
}

// persist stores refreshed tokens. It runs outside the request that
// triggered the refresh, so it uses its own short context.
func (m *Manager) persist(id string) func(*oauth2.Token) {
	return func(tok *oauth2.Token) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.UpdateSessionTokens(ctx, id, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
			m.logger.Error("Failed to persist refreshed tokens", log.FieldSessionID, shortID(id), log.FieldError, err.Error())
			return
		}
		m.logger.Debug("Session tokens refreshed", log.FieldSessionID, shortID(id))
	}
}

// Destroy removes the session record and expires the cookie. It is used on
// logout and after an irrecoverable refresh failure.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		if err := m.store.DeleteSession(r.Context(), c.Value); err != nil {
			m.logger.ErrorContext(r.Context(), "Failed to delete session", log.FieldError, err.Error())
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) setCookie(w http.ResponseWriter, id string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// DecodeUser reads the display user from the access token payload without
// verifying the signature; the backend verifies it on every call.
func DecodeUser(access string) (core.User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return core.User{}, err
	}
	u := core.User{
		ID:             claimInt(claims, "user_id"),
		Username:       claimString(claims, "username"),
		Email:          claimString(claims, "email"),
		FirstName:      claimString(claims, "first_name"),
		LastName:       claimString(claims, "last_name"),
		OrganizationID: claimInt(claims, "id_organizacion"),
	}
	if u.OrganizationID == 0 {
		u.OrganizationID = claimInt(claims, "organizacion")
	}
	u.IsSuperuser, _ = claims["is_superuser"].(bool)
	return u, nil
}

func claimString(c jwt.MapClaims, key string) string {
	s, _ := c[key].(string)
	return s
}

func claimInt(c jwt.MapClaims, key string) int64 {
	switch v := c[key].(type) {
	case float64:
		return int64(v)
	case string:
		var n int64
		fmt.Sscan(v, &n)
		return n
	}
	return 0
}
