package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/Yoseph-M/Soultalk-sub000/pkg/errors"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/httpclient"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/tracing"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/credstore"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
)

// ServerErrorDetail is reported when a failed registration response is not
// JSON, typically an HTML error page.
const ServerErrorDetail = "Server error. Please try again later."

const maxResponseBody = 1 << 20

// Login exchanges credentials for a token pair and loads the profile.
//
// A rejected login returns an AUTH_FAILED AppError carrying the backend's
// error fields. If the profile cannot be loaded, PROFILE_FETCH_FAILED is
// returned and nothing is stored. A provider that is not yet verified gets
// its User back with NotSignedIn set and a nil error; no session is created.
func (m *Manager) Login(ctx context.Context, email, password string) (*domain.User, error) {
	ctx, span := m.tracer.Start(ctx, "session.Login")
	defer span.End()
	done := m.beginLoading()
	defer done()

	user, err := m.login(ctx, email, password)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("user.id", user.ID),
		attribute.Bool("session.not_signed_in", user.NotSignedIn),
	)
	return user, nil
}

func (m *Manager) login(ctx context.Context, email, password string) (*domain.User, error) {
	log := m.log(ctx)

	pair, err := m.obtainTokens(ctx, email, password)
	if err != nil {
		loginTotal.WithLabelValues(loginOutcome(err)).Inc()
		log.InfoContext(ctx, "login rejected", slog.String("error", err.Error()))
		return nil, err
	}

	user, _, err := m.fetchProfile(ctx, pair.Access)
	if err != nil {
		loginTotal.WithLabelValues("profile_error").Inc()
		log.WarnContext(ctx, "profile fetch after login failed", slog.String("error", err.Error()))
		return nil, apperrors.ProfileFetchFailed(err)
	}

	if user.ViolatesVerificationGate() {
		loginTotal.WithLabelValues("not_signed_in").Inc()
		log.InfoContext(ctx, "login refused pending verification",
			slog.String("user_id", user.ID),
			slog.String("role", string(user.Role)),
		)
		m.emit(ctx, "verification_pending", func(ctx context.Context) error {
			return m.publisher.VerificationPending(ctx, user)
		})
		out := user.Clone()
		out.NotSignedIn = true
		return out, nil
	}

	if err := m.persistTokens(ctx, pair); err != nil {
		loginTotal.WithLabelValues("error").Inc()
		log.ErrorContext(ctx, "failed to store credentials", slog.String("error", err.Error()))
		// The access token may already be overwritten, so any previous
		// session is gone too. Sign it out so user and store agree.
		m.logout(ctx, "credential_store_failure")
		return nil, apperrors.Internal(err)
	}
	m.saveUser(ctx, user)
	m.setUser(user)

	loginTotal.WithLabelValues("success").Inc()
	log.InfoContext(ctx, "signed in", slog.String("user_id", user.ID))
	m.emit(ctx, "logged_in", func(ctx context.Context) error {
		return m.publisher.LoggedIn(ctx, user)
	})
	return user.Clone(), nil
}

func loginOutcome(err error) string {
	if errors.Is(err, apperrors.ErrAuth) {
		return "rejected"
	}
	return "error"
}

func (m *Manager) obtainTokens(ctx context.Context, email, password string) (domain.TokenPair, error) {
	req, err := m.newJSONRequest(ctx, http.MethodPost, PathLogin, map[string]string{"username": email, "password": password})
	if err != nil {
		return domain.TokenPair{}, err
	}

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: login request: %w", apperrors.ErrServiceUnavail, err)
	}
	if !isOK(resp.StatusCode) {
		fields, _ := httpclient.DecodeErrorBody(resp)
		return domain.TokenPair{}, apperrors.AuthFailed(resp.StatusCode, fields)
	}

	var pair domain.TokenPair
	if err := decodeBody(resp, &pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("decode login response: %w", err)
	}
	if pair.Access == "" {
		return domain.TokenPair{}, errors.New("login response carried no access token")
	}
	return pair, nil
}

func (m *Manager) persistTokens(ctx context.Context, pair domain.TokenPair) error {
	if err := m.store.Set(ctx, credstore.KeyAccessToken, pair.Access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if pair.Refresh == "" {
		// Never pair a new access token with another account's refresh token.
		if err := m.store.Delete(ctx, credstore.KeyRefreshToken); err != nil {
			return fmt.Errorf("clear refresh token: %w", err)
		}
		return nil
	}
	if err := m.store.Set(ctx, credstore.KeyRefreshToken, pair.Refresh); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// fetchProfile loads /me with token. The status is returned alongside any
// error so callers can tell a rejected token from other failures; it is 0
// when the request never completed.
func (m *Manager) fetchProfile(ctx context.Context, token string) (*domain.User, int, error) {
	req, err := m.NewRequest(ctx, http.MethodGet, PathMe, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("profile request: %w", err)
	}
	if !isOK(resp.StatusCode) {
		return nil, resp.StatusCode, httpclient.ParseResponseError(resp, "auth backend")
	}

	var profile domain.Profile
	if err := decodeBody(resp, &profile); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode profile: %w", err)
	}
	return profile.ToUser(m.baseURL), resp.StatusCode, nil
}

// Signup registers an account and, unless form.SkipLogin is set, signs it
// in. The form is normalized and validated first; validation failures are
// returned as INVALID_INPUT without contacting the backend.
func (m *Manager) Signup(ctx context.Context, form domain.SignupForm) error {
	ctx, span := m.tracer.Start(ctx, "session.Signup")
	defer span.End()
	done := m.beginLoading()
	defer done()

	form.Normalize()
	if problems := form.Validate(m.cfg.Now()); problems != nil {
		return apperrors.InvalidFields(problems)
	}
	span.SetAttributes(attribute.String("user.role", string(form.UserType)))

	if err := m.register(ctx, &form); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	m.log(ctx).InfoContext(ctx, "account registered", slog.String("role", string(form.UserType)))
	m.emit(ctx, "registered", func(ctx context.Context) error {
		return m.publisher.Registered(ctx, form.Email, form.UserType)
	})

	if form.SkipLogin {
		return nil
	}
	_, err := m.Login(ctx, form.Email, form.Password)
	return err
}

func (m *Manager) register(ctx context.Context, form *domain.SignupForm) error {
	body, contentType, err := encodeSignup(form)
	if err != nil {
		return err
	}
	req, err := m.NewRequest(ctx, http.MethodPost, PathRegister, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: register request: %w", apperrors.ErrServiceUnavail, err)
	}
	if !isOK(resp.StatusCode) {
		fields, ok := httpclient.DecodeErrorBody(resp)
		if !ok {
			fields = map[string]any{"detail": ServerErrorDetail}
		}
		return apperrors.SignupRejected(resp.StatusCode, fields)
	}
	drain(resp)
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeSignup renders form as multipart/form-data using the backend's
// field names.
func encodeSignup(form *domain.SignupForm) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct {
		name, value string
		always      bool
	}{
		{"username", form.Email, true},
		{"email", form.Email, true},
		{"password", form.Password, true},
		{"role", string(form.UserType), true},
		{"first_name", form.FirstName, true},
		{"last_name", form.LastName, true},
		{"phone", form.Phone, false},
		{"dob", form.DOB, false},
		{"specialization", form.Specialization, false},
		{"id_type", form.IDType, false},
		{"id_number_input", form.IDNumber, false},
		{"issuing_authority_input", form.IssuingAuthority, false},
		{"location", form.Location, false},
	}
	for _, f := range fields {
		if f.value == "" && !f.always {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	files := []struct {
		name string
		file *domain.FileUpload
	}{
		{"profile_photo", form.ProfilePhoto},
		{"id_image", form.IDImage},
		{"id_image_back", form.IDImageBack},
		{"certificates", form.Certificates},
	}
	for _, f := range files {
		if f.file == nil {
			continue
		}
		if err := writeFile(mw, f.name, f.file); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func writeFile(mw *multipart.Writer, field string, f *domain.FileUpload) error {
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Filename)))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create file part %s: %w", field, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return fmt.Errorf("write file part %s: %w", field, err)
	}
	return nil
}

func isOK(status int) bool {
	return status >= 200 && status < 300
}

// decodeBody decodes a JSON body and closes it.
func decodeBody(resp *http.Response, dst any) error {
	defer func() { _ = resp.Body.Close() }()
	return json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(dst)
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	_ = resp.Body.Close()
}
