package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/Yoseph-M/Soultalk-sub000/pkg/errors"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/httputil"
	"github.com/Yoseph-M/Soultalk-sub000/pkg/validator"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/domain"
	"github.com/Yoseph-M/Soultalk-sub000/services/sessiond/internal/session"
)

const (
	maxSignupBody   = 25 << 20
	maxSignupMemory = 8 << 20
	maxFileSize     = 10 << 20
)

// SessionHandler exposes the session manager over HTTP.
type SessionHandler struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(manager *session.Manager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		logger:  logger,
	}
}

// --- Request / response DTOs ---

// LoginRequest is the JSON body for POST /session/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse reports the user the backend returned. SignedIn is false
// for providers awaiting verification.
type LoginResponse struct {
	User     *domain.User `json:"user"`
	SignedIn bool         `json:"signed_in"`
}

// --- Handlers ---

// Status handles GET /session
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.manager.Status(r.Context()))
}

// Login handles POST /session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	user, err := h.manager.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, LoginResponse{User: user, SignedIn: !user.NotSignedIn})
}

// Signup handles POST /session/signup
func (h *SessionHandler) Signup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSignupBody)
	if err := r.ParseMultipartForm(maxSignupMemory); err != nil {
		httputil.WriteValidationError(w, fmt.Errorf("invalid multipart body: %w", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form, err := signupFormFromRequest(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.manager.Signup(r.Context(), form); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusCreated, h.manager.Status(r.Context()))
}

// Logout handles POST /session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.manager.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /session/refresh
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.manager.RefreshUser(r.Context())
	httputil.WriteData(w, http.StatusOK, h.manager.Status(r.Context()))
}

// UpdateUser handles PATCH /session/user. The route requires a signed-in
// session.
func (h *SessionHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch domain.UserPatch
	if err := validator.DecodeAndValidate(r, &patch); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if patch.Role != nil && !domain.IsValidRole(string(*patch.Role)) {
		httputil.WriteError(w, r, apperrors.InvalidFields(map[string]string{"role": "is not a valid role"}), h.logger)
		return
	}
	h.manager.UpdateUser(r.Context(), patch)
	httputil.WriteData(w, http.StatusOK, h.manager.Status(r.Context()))
}

// --- Helpers ---

func signupFormFromRequest(r *http.Request) (domain.SignupForm, error) {
	form := domain.SignupForm{
		Email:            r.FormValue("email"),
		Password:         r.FormValue("password"),
		UserType:         domain.Role(r.FormValue("role")),
		FirstName:        r.FormValue("first_name"),
		LastName:         r.FormValue("last_name"),
		Phone:            r.FormValue("phone"),
		DOB:              r.FormValue("dob"),
		Specialization:   r.FormValue("specialization"),
		IDType:           r.FormValue("id_type"),
		IDNumber:         r.FormValue("id_number_input"),
		IssuingAuthority: r.FormValue("issuing_authority_input"),
		Location:         r.FormValue("location"),
	}
	if raw := r.FormValue("skip_login"); raw != "" {
		skip, err := strconv.ParseBool(raw)
		if err != nil {
			return form, apperrors.InvalidFields(map[string]string{"skip_login": "must be a boolean"})
		}
		form.SkipLogin = skip
	}

	files := []struct {
		field string
		dst   **domain.FileUpload
	}{
		{"profile_photo", &form.ProfilePhoto},
		{"id_image", &form.IDImage},
		{"id_image_back", &form.IDImageBack},
		{"certificates", &form.Certificates},
	}
	for _, f := range files {
		upload, err := formFile(r, f.field)
		if err != nil {
			return form, err
		}
		*f.dst = upload
	}
	return form, nil
}

// formFile reads an optional uploaded file. A missing field yields nil.
func formFile(r *http.Request, field string) (*domain.FileUpload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.InvalidFields(map[string]string{field: "could not be read"})
	}
	defer func() { _ = file.Close() }()

	if header.Size > maxFileSize {
		return nil, apperrors.InvalidFields(map[string]string{
			field: fmt.Sprintf("must be at most %d MB", maxFileSize>>20),
		})
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", field, err)
	}
	return &domain.FileUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
