// Package session owns user registration, login and bearer token checks.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"expensetracker/internal/apperrors"
	"expensetracker/internal/cache"
	"expensetracker/internal/core"
	"expensetracker/internal/events"
	"expensetracker/internal/ports"
)

const (
	TransitionLogin  TransitionKind = "login"
	TransitionLogout TransitionKind = "logout"

	MinPasswordLength = 6
	maxRevokedTokens  = 10000
)

type (
	TransitionKind string

	// Transition is emitted whenever a user logs in or out.
	Transition struct {
		UserID string
		Kind   TransitionKind
		At     time.Time
	}

	// Session is what a successful login hands back to the client.
	Session struct {
		UserID    string    `json:"userId"`
		Email     string    `json:"email"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	// Identity is the authenticated caller behind a token.
	Identity struct {
		UserID    string
		Email     string
		TokenID   string
		ExpiresAt time.Time
	}

	Config struct {
		Secret string
		Issuer string
		Expiry time.Duration

		// GoogleClientID is the OAuth client id Google ID tokens must be
		// issued for. Empty disables Google sign-in.
		GoogleClientID string
	}

	// IDTokenValidator verifies a Google ID token for the given audience.
	IDTokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

	Option func(*Service)

	credentials struct {
		Email    string `validate:"required,email,max=254"`
		Password string `validate:"required,min=6,max=72"`
	}

	claims struct {
		Email string `json:"email"`
		jwt.RegisteredClaims
	}
)

type Service struct {
	users          ports.UserStore
	cfg            Config
	validate       *validator.Validate
	validateGoogle IDTokenValidator
	revoked        *cache.LRUCache[struct{}]
	transitions    *events.Broker[Transition]
	now            func() time.Time
}

// WithIDTokenValidator replaces the Google ID token check.
func WithIDTokenValidator(v IDTokenValidator) Option {
	return func(s *Service) { s.validateGoogle = v }
}

func NewService(users ports.UserStore, cfg Config, opts ...Option) *Service {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}
	s := &Service{
		users:          users,
		cfg:            cfg,
		validate:       validator.New(),
		validateGoogle: idtoken.Validate,
		revoked:        cache.NewLRUCache[struct{}](maxRevokedTokens, cfg.Expiry),
		transitions:    events.NewBroker[Transition](),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Revocations exposes the revocation list so expired entries can be swept.
func (s *Service) Revocations() cache.Cleaner {
	return s.revoked
}

// Register creates the account and logs it in.
func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	cred := credentials{Email: strings.ToLower(strings.TrimSpace(email)), Password: password}
	if err := s.validate.Struct(cred); err != nil {
		return Session{}, fmt.Errorf("%w: %s", apperrors.ErrValidation, describe(err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cred.Password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	u := core.User{
		ID:           uuid.NewString(),
		Email:        cred.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return Session{}, fmt.Errorf("register: %w", err)
	}

	slog.InfoContext(ctx, "User registered", "user_id", u.ID)
	return s.issue(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return Session{}, fmt.Errorf("login: %w", apperrors.ErrUnauthorized)
		}
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		slog.WarnContext(ctx, "Login rejected", "user_id", u.ID)
		return Session{}, fmt.Errorf("login: %w", apperrors.ErrUnauthorized)
	}
	return s.issue(u)
}

// LoginWithGoogle signs in with a Google ID token and creates the account on
// first use. Such accounts have no password, so Login never matches them.
func (s *Service) LoginWithGoogle(ctx context.Context, idToken string) (Session, error) {
	if s.cfg.GoogleClientID == "" {
		return Session{}, fmt.Errorf("%w: google sign-in is not configured", apperrors.ErrUnauthorized)
	}
	if strings.TrimSpace(idToken) == "" {
		return Session{}, fmt.Errorf("%w: id token is required", apperrors.ErrValidation)
	}

	payload, err := s.validateGoogle(ctx, idToken, s.cfg.GoogleClientID)
	if err != nil {
		slog.WarnContext(ctx, "Google ID token rejected", "error", err)
		return Session{}, fmt.Errorf("google login: %w", apperrors.ErrUnauthorized)
	}
	email, ok := verifiedEmail(payload)
	if !ok || s.validate.Var(email, "required,email,max=254") != nil {
		slog.WarnContext(ctx, "Google ID token without a verified email", "subject", payload.Subject)
		return Session{}, fmt.Errorf("google login: %w", apperrors.ErrUnauthorized)
	}

	u, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrNotFound) {
		u, err = s.createExternalUser(ctx, email)
	}
	if err != nil {
		return Session{}, fmt.Errorf("google login: %w", err)
	}
	return s.issue(u)
}

func (s *Service) createExternalUser(ctx context.Context, email string) (core.User, error) {
	u := core.User{
		ID:        uuid.NewString(),
		Email:     email,
		CreatedAt: s.now().UTC(),
	}
	err := s.users.CreateUser(ctx, u)
	if errors.Is(err, apperrors.ErrDuplicate) {
		// a concurrent first sign-in won the insert
		return s.users.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return core.User{}, err
	}
	slog.InfoContext(ctx, "User registered", "user_id", u.ID, "provider", "google")
	return u, nil
}

func verifiedEmail(p *idtoken.Payload) (string, bool) {
	if p == nil {
		return "", false
	}
	email, _ := p.Claims["email"].(string)
	switch v := p.Claims["email_verified"].(type) {
	case bool:
		if !v {
			return "", false
		}
	case string:
		if v != "true" {
			return "", false
		}
	default:
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(email)), email != ""
}

func (s *Service) issue(u core.User) (Session, error) {
	now := s.now()
	exp := now.Add(s.cfg.Expiry)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}

	s.transitions.Publish(Transition{UserID: u.ID, Kind: TransitionLogin, At: now})
	return Session{UserID: u.ID, Email: u.Email, Token: signed, ExpiresAt: exp}, nil
}

// Authenticate resolves a bearer token. Invalid, expired and revoked tokens
// all yield apperrors.ErrUnauthorized.
func (s *Service) Authenticate(_ context.Context, token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", apperrors.ErrUnauthorized)
	}
	if c.Subject == "" || c.ID == "" {
		return Identity{}, fmt.Errorf("%w: incomplete token", apperrors.ErrUnauthorized)
	}
	if _, revoked := s.revoked.Get(c.ID); revoked {
		return Identity{}, fmt.Errorf("%w: token revoked", apperrors.ErrUnauthorized)
	}
	return Identity{
		UserID:    c.Subject,
		Email:     c.Email,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// Logout revokes the token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, token string) error {
	id, err := s.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	ttl := id.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	s.revoked.SetWithTTL(id.TokenID, struct{}{}, ttl)
	s.transitions.Publish(Transition{UserID: id.UserID, Kind: TransitionLogout, At: s.now()})

	slog.InfoContext(ctx, "User logged out", "user_id", id.UserID)
	return nil
}

// Subscribe delivers login/logout transitions until cancel is called.
func (s *Service) Subscribe(buffer int) (<-chan Transition, func()) {
	return s.transitions.Subscribe(buffer)
}

// SubscribeUser is Subscribe restricted to one user's transitions.
func (s *Service) SubscribeUser(userID string, buffer int) (<-chan Transition, func()) {
	return s.transitions.SubscribeFunc(buffer, func(t Transition) bool {
		return t.UserID == userID
	})
}

func (s *Service) Close() {
	s.transitions.Close()
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, strings.ToLower(fe.Field())+" is required")
		case "email":
			msgs = append(msgs, "email is not valid")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s characters", strings.ToLower(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
		}
	}
	return strings.Join(msgs, "; ")
}
