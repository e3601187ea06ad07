package validator

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type profileRequest struct {
	FirstName string `form:"first_name" validate:"required,max=5"`
	Role      string `json:"role" validate:"omitempty,oneof=seeker professional"`
	Phone     string `json:"phone" validate:"omitempty,phone"`
	Password  string `json:"password" validate:"omitempty,strongpassword"`
	Untagged  string `validate:"omitempty,min=3"`
}

func TestValidate_Success(t *testing.T) {
	err := Validate(loginRequest{Email: "alice@example.com", Password: "x"})
	assert.NoError(t, err)
}

func TestValidate_FieldNamesUseWireTags(t *testing.T) {
	err := Validate(loginRequest{Email: "not-an-email"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "is required", fields["password"])
}

func TestValidate_FormTagAndFallbackName(t *testing.T) {
	err := Validate(profileRequest{FirstName: "Bartholomew", Untagged: "ab"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Contains(t, fields["first_name"], "at most 5")
	assert.Contains(t, fields["Untagged"], "at least 3")
}

func TestValidate_OneOf(t *testing.T) {
	err := Validate(profileRequest{FirstName: "Abel", Role: "admin"})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be one of: seeker professional", valErr.Fields()["role"])
}

func TestValidate_Phone(t *testing.T) {
	assert.NoError(t, Validate(profileRequest{FirstName: "Abel", Phone: "+251 (911) 234-567"}))

	err := Validate(profileRequest{FirstName: "Abel", Phone: "12-34"})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be a valid phone number", valErr.Fields()["phone"])
}

func TestValidate_StrongPassword(t *testing.T) {
	assert.NoError(t, Validate(profileRequest{FirstName: "Abel", Password: "Calm!River9"}))

	err := Validate(profileRequest{FirstName: "Abel", Password: "calmriver9!"})
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "Include at least one uppercase letter", valErr.Fields()["password"])
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(loginRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'email' is required")
	assert.Contains(t, err.Error(), "field 'password' is required")
}

func TestDecodeAndValidate_Success(t *testing.T) {
	body := `{"email":"alice@example.com","password":"Secret!23"}`
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))

	var s loginRequest
	require.NoError(t, DecodeAndValidate(req, &s))
	assert.Equal(t, "alice@example.com", s.Email)
}

func TestDecodeAndValidate_InvalidJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{invalid"))

	var s loginRequest
	err := DecodeAndValidate(req, &s)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_ValidationFails(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"bad"}`))

	var s loginRequest
	err := DecodeAndValidate(req, &s)

	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
}
