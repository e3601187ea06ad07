// Package session owns the signed-in identity of a SoulTalk client: it
// exchanges credentials for tokens, keeps them in a credential store,
// refreshes them silently and refuses sessions to providers that have not
// been verified yet.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/logger"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/tracing"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/credstore"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
)

// Backend auth endpoints, relative to the base URL.
const (
	PathLogin    = "/api/auth/login/"
	PathRegister = "/api/auth/register/"
	PathMe       = "/api/auth/me/"
	PathRefresh  = "/api/auth/token/refresh/"
)

const tracerName = "github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/session"

// Doer executes an HTTP request. pkg/httpclient clients satisfy it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Publisher receives session lifecycle events. Errors are logged and
// otherwise ignored.
type Publisher interface {
	LoggedIn(ctx context.Context, user *domain.User) error
	LoggedOut(ctx context.Context, userID string) error
	VerificationPending(ctx context.Context, user *domain.User) error
	RefreshFailed(ctx context.Context, userID string) error
	Registered(ctx context.Context, email string, role domain.Role) error
}

// Config configures a Manager.
type Config struct {
	// BaseURL is the backend origin, e.g. "https://api.soultalk.app".
	BaseURL string
	// SingleFlightRefresh makes concurrent callers share one token refresh.
	SingleFlightRefresh bool
	// Now overrides the clock used for signup age checks.
	Now func() time.Time
}

// DefaultConfig returns a Config for baseURL with single-flight refresh on.
func DefaultConfig(baseURL string) Config {
	return Config{BaseURL: baseURL, SingleFlightRefresh: true}
}

// Status is a snapshot of the session.
type Status struct {
	User            *domain.User `json:"user"`
	IsLoading       bool         `json:"is_loading"`
	SignedIn        bool         `json:"signed_in"`
	AccessExpiresAt *time.Time   `json:"access_expires_at"`
}

// Manager is the single owner of the session state and the credential
// store. It is safe for concurrent use.
type Manager struct {
	cfg       Config
	baseURL   string
	client    Doer
	store     credstore.Store
	publisher Publisher
	logger    *slog.Logger
	tracer    trace.Tracer

	mu          sync.RWMutex
	user        *domain.User
	loading     int
	initialized bool

	initOnce sync.Once
	refresh  singleflight.Group
}

// New creates a Manager. A nil publisher discards events.
func New(cfg Config, client Doer, store credstore.Store, publisher Publisher, logger *slog.Logger) *Manager {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		cfg:       cfg,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    client,
		store:     store,
		publisher: publisher,
		logger:    logger,
		tracer:    tracing.Tracer(tracerName),
	}
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (m *Manager) CurrentUser() *domain.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user.Clone()
}

// IsLoading reports whether the session is still being restored or a login
// or signup is in flight.
func (m *Manager) IsLoading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.initialized || m.loading > 0
}

// Status returns the current user, the loading flag and, when an access
// token is stored, its expiry. The token signature is not checked; only the
// backend can do that.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.RLock()
	st := Status{
		User:      m.user.Clone(),
		IsLoading: !m.initialized || m.loading > 0,
		SignedIn:  m.user != nil,
	}
	m.mu.RUnlock()

	if token, ok := m.get(ctx, credstore.KeyAccessToken); ok {
		st.AccessExpiresAt = accessExpiry(token)
	}
	return st
}

func accessExpiry(token string) *time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	t := claims.ExpiresAt.UTC()
	return &t
}

// Initialize restores the session from stored credentials. Only the first
// call does any work. It never fails: any problem leaves the session signed
// out with the stored credentials cleared.
func (m *Manager) Initialize(ctx context.Context) {
	m.initOnce.Do(func() {
		defer m.markInitialized()
		m.initialize(ctx)
	})
}

func (m *Manager) initialize(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "session.Initialize")
	defer span.End()
	log := m.log(ctx)

	token, ok := m.get(ctx, credstore.KeyAccessToken)
	if !ok {
		log.DebugContext(ctx, "no stored session")
		return
	}

	user, status, err := m.fetchProfile(ctx, token)
	if status == http.StatusUnauthorized {
		log.InfoContext(ctx, "stored access token rejected, refreshing")
		newToken, refreshed := m.refreshAccessToken(ctx, token)
		if !refreshed {
			return
		}
		user, _, err = m.fetchProfile(ctx, newToken)
	}
	if err != nil {
		tracing.RecordError(span, err)
		log.WarnContext(ctx, "session restore failed", slog.String("error", err.Error()))
		m.logout(ctx, "restore failed")
		return
	}

	if user.ViolatesVerificationGate() {
		log.WarnContext(ctx, "stored session belongs to an unverified provider",
			slog.String("user_id", user.ID),
			slog.String("role", string(user.Role)),
		)
		m.emit(ctx, "verification_pending", func(ctx context.Context) error {
			return m.publisher.VerificationPending(ctx, user)
		})
		m.logout(ctx, "verification required")
		return
	}

	m.setUser(user)
	m.saveUser(ctx, user)
	span.SetAttributes(attribute.String("user.id", user.ID))
	log.InfoContext(ctx, "session restored", slog.String("user_id", user.ID))
}

func (m *Manager) markInitialized() {
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
}

// beginLoading raises the loading flag until the returned func is called.
func (m *Manager) beginLoading() (done func()) {
	m.mu.Lock()
	m.loading++
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.loading--
			m.mu.Unlock()
		})
	}
}

// Logout clears the user and every stored credential. It makes no network
// call and is safe to repeat.
func (m *Manager) Logout(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "session.Logout")
	defer span.End()
	m.logout(ctx, "requested")
}

func (m *Manager) logout(ctx context.Context, reason string) {
	m.mu.Lock()
	prev := m.user
	m.user = nil
	m.mu.Unlock()

	if err := m.store.Delete(ctx, credstore.AllKeys...); err != nil {
		m.log(ctx).ErrorContext(ctx, "failed to clear stored credentials", slog.String("error", err.Error()))
	}
	if prev == nil {
		return
	}

	m.log(ctx).InfoContext(ctx, "signed out",
		slog.String("user_id", prev.ID),
		slog.String("reason", reason),
	)
	m.emit(ctx, "logged_out", func(ctx context.Context) error {
		return m.publisher.LoggedOut(ctx, prev.ID)
	})
}

// RefreshUser re-reads the profile with the stored access token. Failures
// keep the current user. A profile that no longer passes the verification
// gate signs the session out.
func (m *Manager) RefreshUser(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "session.RefreshUser")
	defer span.End()

	token, ok := m.get(ctx, credstore.KeyAccessToken)
	if !ok {
		return
	}

	user, _, err := m.fetchProfile(ctx, token)
	if err != nil {
		tracing.RecordError(span, err)
		m.log(ctx).WarnContext(ctx, "profile refresh failed", slog.String("error", err.Error()))
		return
	}
	if user.ViolatesVerificationGate() {
		m.logout(ctx, "verification revoked")
		return
	}
	m.setUser(user)
	m.saveUser(ctx, user)
}

// UpdateUser merges patch into the current user and the cached copy. It
// does not call the backend and does nothing when signed out.
func (m *Manager) UpdateUser(ctx context.Context, patch domain.UserPatch) {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return
	}
	next := patch.Apply(m.user)
	if next.ViolatesVerificationGate() {
		m.mu.Unlock()
		m.logout(ctx, "update violates verification gate")
		return
	}
	m.user = next
	m.mu.Unlock()

	m.saveUser(ctx, next)
}

func (m *Manager) setUser(u *domain.User) {
	m.mu.Lock()
	m.user = u.Clone()
	m.mu.Unlock()
}

// saveUser writes the user cache. The cache is only a hint, so failures are
// logged.
func (m *Manager) saveUser(ctx context.Context, u *domain.User) {
	cached := u.Clone()
	cached.NotSignedIn = false
	raw, err := json.Marshal(cached)
	if err == nil {
		err = m.store.Set(ctx, credstore.KeyUser, string(raw))
	}
	if err != nil {
		m.log(ctx).WarnContext(ctx, "failed to cache user", slog.String("error", err.Error()))
	}
}

// get reads key from the store, treating read errors as absence.
func (m *Manager) get(ctx context.Context, key string) (string, bool) {
	v, ok, err := m.store.Get(ctx, key)
	if err != nil {
		m.log(ctx).WarnContext(ctx, "credential store read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return v, ok && v != ""
}

func (m *Manager) currentUserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, m.logger)
}

// emit publishes an event, logging failures.
func (m *Manager) emit(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		m.log(ctx).WarnContext(ctx, "failed to publish session event",
			slog.String("event", name),
			slog.String("error", err.Error()),
		)
	}
}

type nopPublisher struct{}

func (nopPublisher) LoggedIn(context.Context, *domain.User) error { return nil }
func (nopPublisher) LoggedOut(context.Context, string) error { return nil }
func (nopPublisher) VerificationPending(context.Context, *domain.User) error { return nil }
func (nopPublisher) RefreshFailed(context.Context, string) error { return nil }
func (nopPublisher) Registered(context.Context, string, domain.Role) error { return nil }
