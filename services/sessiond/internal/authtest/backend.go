// Package authtest runs an in-process fake of the SoulTalk auth API for
// tests. It issues real HS256 JWTs so expiry and rotation behave as they do
// against the real backend.
package authtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
)

// Backend endpoints.
const (
	PathLogin    = "/api/auth/login/"
	PathRegister = "/api/auth/register/"
	PathMe       = "/api/auth/me/"
	PathRefresh  = "/api/auth/token/refresh/"
	// PathEcho is a protected endpoint that reflects the request back.
	PathEcho = "/api/echo/"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Account is a registered user.
type Account struct {
	Profile  domain.Profile
	Password string
}

// Signup is what the backend received on the last registration.
type Signup struct {
	Values map[string]string
	Files  map[string]string // form field -> filename
}

// EchoResponse is the body returned by PathEcho.
type EchoResponse struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	Query         string `json:"query"`
	Authorization string `json:"authorization"`
	Body          string `json:"body"`
	UserID        string `json:"user_id"`
}

type forced struct {
	status int
	html   bool
}

type claims struct {
	TokenType string `json:"token_type"`
	Gen       int    `json:"gen"`
	jwt.RegisteredClaims
}

// Backend is the fake auth API. The zero value is not usable; call New.
type Backend struct {
	server *httptest.Server
	secret []byte

	mu          sync.Mutex
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rotate      bool
	accounts    map[string]*Account // by email
	nextID      int
	accessGen   int
	refreshGen  int
	revoked     map[string]bool // refresh token IDs
	calls       map[string]int
	failures    map[string][]forced
	lastSignup  *Signup
	refreshHold chan struct{}
}

// New starts a backend. It is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	b := &Backend{
		accessTTL:  5 * time.Minute,
		refreshTTL: 24 * time.Hour,
		secret:     []byte("authtest-" + uuid.NewString()),
		accounts:   make(map[string]*Account),
		nextID:     1,
		revoked:    make(map[string]bool),
		calls:      make(map[string]int),
		failures:   make(map[string][]forced),
	}
	b.server = httptest.NewServer(b.routes())
	t.Cleanup(b.server.Close)
	return b
}

func (b *Backend) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(b.count)
	r.Post(PathLogin, b.login)
	r.Post(PathRegister, b.register)
	r.Get(PathMe, b.me)
	r.Post(PathRefresh, b.refresh)
	r.HandleFunc(PathEcho+"*", b.echo)
	return r
}

// URL is the base URL of the backend.
func (b *Backend) URL() string { return b.server.URL }

// AddUser registers an account and returns its profile. An empty ID is
// assigned, and providers default to unverified.
func (b *Backend) AddUser(p domain.Profile, password string) domain.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(p, password)
}

func (b *Backend) addLocked(p domain.Profile, password string) domain.Profile {
	if p.ID == "" {
		p.ID = domain.FlexibleID(strconv.Itoa(b.nextID))
		b.nextID++
	}
	if p.Username == "" {
		p.Username = p.Email
	}
	if p.Role.RequiresVerification() && p.VerificationStatus == "" && !p.Verified {
		p.VerificationStatus = domain.VerificationPending
	}
	b.accounts[strings.ToLower(p.Email)] = &Account{Profile: p, Password: password}
	return p
}

// SetVerified changes an account's verification state.
func (b *Backend) SetVerified(email string, verified bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.accounts[strings.ToLower(email)]; ok {
		a.Profile.Verified = verified
		if verified {
			a.Profile.VerificationStatus = domain.VerificationVerified
		}
	}
}

// UpdateProfile applies fn to an account's profile.
func (b *Backend) UpdateProfile(email string, fn func(*domain.Profile)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.accounts[strings.ToLower(email)]; ok {
		fn(&a.Profile)
	}
}

// Account returns a copy of the registered account, if any.
func (b *Backend) Account(email string) (Account, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[strings.ToLower(email)]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// SetAccessTTL sets the lifetime of access tokens issued from now on.
func (b *Backend) SetAccessTTL(d time.Duration) {
	b.mu.Lock()
	b.accessTTL = d
	b.mu.Unlock()
}

// SetRotateRefresh makes the refresh endpoint return a new refresh token
// and revoke the one that was presented.
func (b *Backend) SetRotateRefresh(rotate bool) {
	b.mu.Lock()
	b.rotate = rotate
	b.mu.Unlock()
}

// ExpireAccessTokens invalidates every access token issued so far.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	b.accessGen++
	b.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	b.refreshGen++
	b.mu.Unlock()
}

// FailNext makes the next n requests to path answer status with a JSON
// detail body.
func (b *Backend) FailNext(path string, status, n int) {
	b.queueFailure(path, forced{status: status}, n)
}

// FailNextHTML is FailNext with an HTML body, as a crashed backend returns.
func (b *Backend) FailNextHTML(path string, status, n int) {
	b.queueFailure(path, forced{status: status, html: true}, n)
}

func (b *Backend) queueFailure(path string, f forced, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.failures[path] = append(b.failures[path], f)
	}
}

// HoldRefresh blocks refresh requests until the returned release func is
// called.
func (b *Backend) HoldRefresh() (release func()) {
	ch := make(chan struct{})
	b.mu.Lock()
	b.refreshHold = ch
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns how many requests path has received.
func (b *Backend) Calls(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

// LastSignup returns the last registration the backend received.
func (b *Backend) LastSignup() *Signup {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSignup
}

// IssueTokens mints a token pair for an existing account without a login
// call.
func (b *Backend) IssueTokens(email string) (domain.TokenPair, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[strings.ToLower(email)]
	if !ok {
		return domain.TokenPair{}, fmt.Errorf("authtest: no account %s", email)
	}
	return b.issueLocked(string(a.Profile.ID))
}

// ---------------------------------------------------------------------------
// handlers
// ---------------------------------------------------------------------------

func (b *Backend) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.calls[r.URL.Path]++
		var f *forced
		if q := b.failures[r.URL.Path]; len(q) > 0 {
			f = &q[0]
			b.failures[r.URL.Path] = q[1:]
		}
		b.mu.Unlock()

		if f != nil {
			if f.html {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(f.status)
				_, _ = io.WriteString(w, "<html><body><h1>Server Error (500)</h1></body></html>")
				return
			}
			writeJSON(w, f.status, map[string]any{"detail": http.StatusText(f.status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "JSON parse error"})
		return
	}
	if req.Username == "" || req.Password == "" {
		fields := map[string]any{}
		if req.Username == "" {
			fields["username"] = []string{"This field may not be blank."}
		}
		if req.Password == "" {
			fields["password"] = []string{"This field may not be blank."}
		}
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	b.mu.Lock()
	a, ok := b.accounts[strings.ToLower(req.Username)]
	if !ok || a.Password != req.Password {
		b.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "No active account found with the given credentials",
		})
		return
	}
	pair, err := b.issueLocked(string(a.Profile.ID))
	b.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Multipart form parse error"})
		return
	}

	signup := &Signup{Values: map[string]string{}, Files: map[string]string{}}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			signup.Values[k] = v[0]
		}
	}
	for k, fh := range r.MultipartForm.File {
		if len(fh) > 0 {
			signup.Files[k] = fh[0].Filename
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSignup = signup

	email := signup.Values["email"]
	if _, exists := b.accounts[strings.ToLower(email)]; exists {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"email": []string{"user with this email already exists."},
		})
		return
	}

	role := domain.Role(signup.Values["role"])
	p := b.addLocked(domain.Profile{
		Username:  signup.Values["username"],
		Email:     email,
		FirstName: signup.Values["first_name"],
		LastName:  signup.Values["last_name"],
		Role:      role,
		Verified:  !role.RequiresVerification(),
	}, signup.Values["password"])
	writeJSON(w, http.StatusCreated, map[string]any{"id": p.ID, "email": p.Email})
}

func (b *Backend) me(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, err := b.authenticateLocked(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "Given token not valid for any token type",
			"code":   "token_not_valid",
		})
		return
	}
	writeJSON(w, http.StatusOK, a.Profile)
}

func (b *Backend) refresh(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hold := b.refreshHold
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"refresh": []string{"This field is required."}})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.parseLocked(req.Refresh, tokenTypeRefresh)
	if err != nil || c.Gen < b.refreshGen || b.revoked[c.ID] {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	access, err := b.signLocked(c.Subject, tokenTypeAccess, b.accessGen, b.accessTTL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
		return
	}
	pair := domain.TokenPair{Access: access}
	if b.rotate {
		b.revoked[c.ID] = true
		if pair.Refresh, err = b.signLocked(c.Subject, tokenTypeRefresh, b.refreshGen, b.refreshTTL); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, pair)
}

func (b *Backend) echo(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	a, err := b.authenticateLocked(r)
	b.mu.Unlock()
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"detail": "Authentication credentials were not provided.",
		})
		return
	}

	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, EchoResponse{
		Method:        r.Method,
		Path:          r.URL.Path,
		Query:         r.URL.RawQuery,
		Authorization: r.Header.Get("Authorization"),
		Body:          string(body),
		UserID:        string(a.Profile.ID),
	})
}

// ---------------------------------------------------------------------------
// tokens
// ---------------------------------------------------------------------------

func (b *Backend) issueLocked(userID string) (domain.TokenPair, error) {
	access, err := b.signLocked(userID, tokenTypeAccess, b.accessGen, b.accessTTL)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := b.signLocked(userID, tokenTypeRefresh, b.refreshGen, b.refreshTTL)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{Access: access, Refresh: refresh}, nil
}

func (b *Backend) signLocked(userID, tokenType string, gen int, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		TokenType: tokenType,
		Gen:       gen,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(b.secret)
}

func (b *Backend) parseLocked(raw, tokenType string) (*claims, error) {
	c := &claims{}
	_, err := jwt.ParseWithClaims(raw, c, func(*jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if c.TokenType != tokenType {
		return nil, fmt.Errorf("token type %q, want %q", c.TokenType, tokenType)
	}
	return c, nil
}

func (b *Backend) authenticateLocked(r *http.Request) (*Account, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, errors.New("missing bearer token")
	}
	c, err := b.parseLocked(raw, tokenTypeAccess)
	if err != nil {
		return nil, err
	}
	if c.Gen < b.accessGen {
		return nil, errors.New("token expired")
	}
	for _, a := range b.accounts {
		if string(a.Profile.ID) == c.Subject {
			return a, nil
		}
	}
	return nil, errors.New("user not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
