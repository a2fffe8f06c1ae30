// Package identity resolves the signed-in shopper for checkout prefill. A
// token that cannot be resolved is discarded and the shopper continues as a
// guest; resolution never blocks checkout.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/backend"
	"github.com/benjaminabbitt/storefront/order/logic"
	"github.com/benjaminabbitt/storefront/storage"
)

// TokenKey is the durable key holding the session token.
const TokenKey = "auth_token"

// DefaultTimeout bounds a remote session lookup.
const DefaultTimeout = 5 * time.Second

// SessionAPI is the identity service.
type SessionAPI interface {
	Login(ctx context.Context, email, password string) (backend.Session, error)
	ResolveSession(ctx context.Context, token string) (backend.User, error)
}

// Resolver maps session tokens to customer profiles.
type Resolver struct {
	api     SessionAPI
	kv      storage.Store
	secret  []byte
	timeout time.Duration
	logger  *zap.Logger
	clock   func() time.Time
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithSigningSecret enables local verification of HMAC-signed tokens. Tokens
// that fail verification or have expired are rejected without a remote call.
func WithSigningSecret(secret string) Option {
	return func(r *Resolver) {
		if secret != "" {
			r.secret = []byte(secret)
		}
	}
}

// WithTimeout bounds each remote lookup.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock allows tests to control token expiry.
func WithClock(clock func() time.Time) Option {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewResolver creates a resolver. kv holds the current token; it may be nil
// when only Resolve is used.
func NewResolver(api SessionAPI, kv storage.Store, opts ...Option) *Resolver {
	r := &Resolver{
		api:     api,
		kv:      kv,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the profile behind token, or nil when the token is
// expired, invalid or the service is unreachable. A nil result discards the
// stored token if it is the one passed.
func (r *Resolver) Resolve(ctx context.Context, token string) *logic.CustomerProfile {
	if token == "" {
		return nil
	}
	if err := r.verify(token); err != nil {
		r.logger.Info("session token rejected locally", zap.Error(err))
		r.discard(ctx, token)
		return nil
	}
	if r.api == nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	user, err := r.api.ResolveSession(callCtx, token)
	if err != nil {
		r.logger.Info("session not resolved; continuing as guest", zap.Error(err))
		r.discard(ctx, token)
		return nil
	}
	return ProfileFromUser(user)
}

// Current resolves the stored token.
func (r *Resolver) Current(ctx context.Context) *logic.CustomerProfile {
	token, err := r.Token(ctx)
	if err != nil || token == "" {
		return nil
	}
	return r.Resolve(ctx, token)
}

// Token returns the stored session token, or "" when there is none.
func (r *Resolver) Token(ctx context.Context) (string, error) {
	if r.kv == nil {
		return "", nil
	}
	data, err := r.kv.Get(ctx, TokenKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Login signs in and stores the session token.
func (r *Resolver) Login(ctx context.Context, email, password string) (*logic.CustomerProfile, error) {
	if r.api == nil {
		return nil, errors.New("identity: no identity service configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	session, err := r.api.Login(callCtx, email, password)
	if err != nil {
		return nil, err
	}
	if r.kv != nil {
		if err := r.kv.Put(ctx, TokenKey, []byte(session.Token)); err != nil {
			r.logger.Warn("session token not persisted", zap.Error(err))
		}
	}
	return ProfileFromUser(session.User), nil
}

// Logout forgets the stored token.
func (r *Resolver) Logout(ctx context.Context) error {
	if r.kv == nil {
		return nil
	}
	return r.kv.Delete(ctx, TokenKey)
}

func (r *Resolver) verify(token string) error {
	if r.secret == nil {
		return nil
	}
	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(r.clock), jwt.WithExpirationRequired())
	return err
}

func (r *Resolver) discard(ctx context.Context, token string) {
	stored, err := r.Token(ctx)
	if err != nil || stored != token {
		return
	}
	if err := r.kv.Delete(ctx, TokenKey); err != nil {
		r.logger.Warn("session token not discarded", zap.Error(err))
	}
}

// ProfileFromUser converts an account to a checkout profile.
func ProfileFromUser(u backend.User) *logic.CustomerProfile {
	return &logic.CustomerProfile{
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Phone:     u.Phone,
		Address: logic.Address{
			Street:     u.Address.Street,
			PostalCode: u.Address.PostalCode,
			City:       u.Address.City,
			Country:    u.Address.Country,
		},
		UserID: u.ID,
	}
}
