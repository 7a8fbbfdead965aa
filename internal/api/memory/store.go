// Package memory is an in-process implementation of the api ports. It
// backs the handler tests and the DATA_BACKEND=memory development mode, and
// applies the same business rules the real backend enforces.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"sumarte/internal/api"
	"sumarte/internal/core"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 24 * time.Hour
)

type userRecord struct {
	core.User
	password string
	orgAdmin bool
}

type invitationRecord struct {
	core.Invitation
	token string
}

// Store holds every entity. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	secret []byte
	now    func() time.Time
	nextID int64

	users       map[int64]*userRecord
	orgs        map[int64]*core.Organization
	projects    map[int64]*core.Project
	items       map[int64]*core.BudgetItem
	subitems    map[int64]*core.Subitem
	txs         map[int64]*core.Transaction
	suppliers   []core.Supplier
	evidence    map[int64]*core.Evidence
	links       map[int64]core.EvidenceLink
	roles       []core.Role
	members     map[int64]core.TeamMember
	invitations map[int64]*invitationRecord
	audit       []core.AuditLogEntry
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store with the standard roles.
func New(opts ...Option) *Store {
	s := &Store{
		secret:      []byte(uuid.NewString()),
		now:         time.Now,
		users:       map[int64]*userRecord{},
		orgs:        map[int64]*core.Organization{},
		projects:    map[int64]*core.Project{},
		items:       map[int64]*core.BudgetItem{},
		subitems:    map[int64]*core.Subitem{},
		txs:         map[int64]*core.Transaction{},
		evidence:    map[int64]*core.Evidence{},
		links:       map[int64]core.EvidenceLink{},
		members:     map[int64]core.TeamMember{},
		invitations: map[int64]*invitationRecord{},
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range core.Roles {
		s.roles = append(s.roles, core.Role{ID: s.id(), Name: name})
	}
	return s
}

var _ api.Backend = (*Store)(nil)

// id must be called with mu held or before the store is shared.
func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func businessErr(status int, format string, args ...any) error {
	return &api.BusinessError{Status: status, Message: fmt.Sprintf(format, args...)}
}

func fieldErr(field, msg string) error {
	return &api.ValidationError{Fields: map[string][]string{field: {msg}}}
}

type claims struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	OrgID     int64  `json:"id_organizacion,omitempty"`
	Superuser bool   `json:"is_superuser,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func (s *Store) issue(u *userRecord) (*oauth2.Token, error) {
	now := s.now()
	mk := func(kind string, ttl time.Duration) (string, time.Time, error) {
		exp := now.Add(ttl)
		c := claims{
			UserID:    u.ID,
			Username:  u.Username,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			OrgID:     u.OrganizationID,
			Superuser: u.IsSuperuser,
			TokenType: kind,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
		return signed, exp, err
	}

	access, exp, err := mk("access", accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, _, err := mk("refresh", refreshTTL)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer", Expiry: exp}, nil
}

// verify checks the signature, expiry and kind of a token we issued.
func (s *Store) verify(raw, kind string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	if c.TokenType != kind {
		return nil, errors.New("wrong token type")
	}
	return c, nil
}

func (s *Store) Login(_ context.Context, username, password string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) && u.password == password {
			return s.issue(u)
		}
	}
	return nil, businessErr(401, "invalid username or password")
}

func (s *Store) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	c, err := s.verify(refreshToken, "refresh")
	if err != nil {
		return nil, api.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[c.UserID]
	if !ok {
		return nil, api.ErrUnauthorized
	}
	return s.issue(u)
}

// ClientFor returns a client acting as the token's user.
func (s *Store) ClientFor(tok *oauth2.Token, onRefresh func(*oauth2.Token)) api.Client {
	return &Client{store: s, token: tok, onRefresh: onRefresh}
}

func (s *Store) CheckRUT(_ context.Context, rut string) (bool, error) {
	normalized, err := core.ValidateRUT(rut)
	if err != nil {
		return false, fieldErr("rut_organizacion", err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.rutTaken(normalized), nil
}

func (s *Store) rutTaken(rut string) bool {
	for _, o := range s.orgs {
		if o.TaxID == rut {
			return true
		}
	}
	return false
}

func (s *Store) usernameTaken(username string) bool {
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return true
		}
	}
	return false
}

func (s *Store) RegisterOrganization(_ context.Context, in api.OrganizationSignup) (core.Organization, error) {
	normalized, err := core.ValidateRUT(in.RUT)
	if err != nil {
		return core.Organization{}, fieldErr("rut_organizacion", err.Error())
	}
	if strings.TrimSpace(in.Name) == "" {
		return core.Organization{}, fieldErr("nombre_organizacion", "this field is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rutTaken(normalized) {
		return core.Organization{}, fieldErr("rut_organizacion", "an organization with this RUT already exists")
	}
	if s.usernameTaken(in.AdminUsername) {
		return core.Organization{}, fieldErr("username", "this username is taken")
	}

	org := &core.Organization{
		ID:                 s.id(),
		Name:               strings.TrimSpace(in.Name),
		TaxID:              normalized,
		Plan:               "basico",
		SubscriptionStatus: "activo",
	}
	s.orgs[org.ID] = org
	s.addUserLocked(core.User{
		Username:       in.AdminUsername,
		Email:          in.AdminEmail,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		OrganizationID: org.ID,
	}, in.AdminPassword, true)
	return *org, nil
}

func (s *Store) AcceptInvitation(_ context.Context, a api.InvitationAcceptance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inv *invitationRecord
	for _, rec := range s.invitations {
		if rec.token == a.Token {
			inv = rec
			break
		}
	}
	switch {
	case inv == nil || inv.Status != InvitationPending:
		return businessErr(400, "invitation is not valid")
	case s.now().After(inv.ExpiresAt):
		inv.Status = InvitationExpired
		return businessErr(400, "invitation has expired")
	case s.usernameTaken(a.Username):
		return fieldErr("username", "this username is taken")
	}

	p, ok := s.projects[inv.ProjectID]
	if !ok {
		return businessErr(404, "project not found")
	}
	u := s.addUserLocked(core.User{
		Username:       a.Username,
		Email:          inv.Email,
		FirstName:      a.FirstName,
		LastName:       a.LastName,
		OrganizationID: p.OrganizationID,
	}, a.Password, false)
	m := core.TeamMember{ID: s.id(), UserID: u.ID, Username: u.Username, ProjectID: p.ID, RoleID: inv.RoleID, Role: s.roleName(inv.RoleID)}
	s.members[m.ID] = m
	inv.Status = InvitationAccepted
	return nil
}

// Invitation states.
const (
	InvitationPending   = "pendiente"
	InvitationAccepted  = "aceptada"
	InvitationCancelled = "cancelada"
	InvitationExpired   = "expirada"
)

func (s *Store) addUserLocked(u core.User, password string, orgAdmin bool) *userRecord {
	u.ID = s.id()
	rec := &userRecord{User: u, password: password, orgAdmin: orgAdmin}
	s.users[u.ID] = rec
	return rec
}

func (s *Store) roleName(id int64) string {
	for _, r := range s.roles {
		if r.ID == id {
			return r.Name
		}
	}
	return ""
}

func (s *Store) roleID(name string) int64 {
	for _, r := range s.roles {
		if r.Name == name {
			return r.ID
		}
	}
	return 0
}

// InvitationToken exposes the secret token of a pending invitation. There
// is no mail delivery in memory mode.
func (s *Store) InvitationToken(id int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return "", false
	}
	return inv.token, true
}
