package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRole(t *testing.T) {
	for _, r := range []string{"seeker", "listener", "professional", "client", "admin"} {
		assert.True(t, IsValidRole(r), r)
	}
	assert.False(t, IsValidRole("therapist"))
	assert.False(t, IsValidRole(""))
}

func TestRole_RequiresVerification(t *testing.T) {
	assert.True(t, RoleProfessional.RequiresVerification())
	assert.True(t, RoleListener.RequiresVerification())
	assert.False(t, RoleSeeker.RequiresVerification())
	assert.False(t, RoleClient.RequiresVerification())
	assert.False(t, RoleAdmin.RequiresVerification())
}

func TestUser_ViolatesVerificationGate(t *testing.T) {
	tests := []struct {
		role     Role
		verified bool
		want     bool
	}{
		{RoleProfessional, false, true},
		{RoleListener, false, true},
		{RoleProfessional, true, false},
		{RoleSeeker, false, false},
		{RoleAdmin, false, false},
	}
	for _, tt := range tests {
		u := &User{Role: tt.role, Verified: tt.verified}
		assert.Equal(t, tt.want, u.ViolatesVerificationGate(), "%s verified=%v", tt.role, tt.verified)
	}
}

func TestFlexibleID(t *testing.T) {
	tests := []struct {
		raw  string
		want FlexibleID
	}{
		{`42`, "42"},
		{`"abc-1"`, "abc-1"},
		{`null`, ""},
		{`12345678901234567890`, "12345678901234567890"},
	}
	for _, tt := range tests {
		var id FlexibleID
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &id), tt.raw)
		assert.Equal(t, tt.want, id)
	}

	var id FlexibleID
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &id))
}

func TestProfile_ToUser(t *testing.T) {
	raw := `{
		"id": 7, "username": "ada@example.com", "email": "ada@example.com",
		"first_name": "Ada", "last_name": "Lovelace", "role": "professional",
		"profile_photo": "/media/ada.png", "verified": true,
		"verification_status": "verified", "bio": "CBT", "rating": 4.5, "sessions_completed": 12
	}`
	var p Profile
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	u := p.ToUser("https://api.soultalk.test")
	assert.Equal(t, "7", u.ID)
	assert.Equal(t, "Ada Lovelace", u.Name)
	assert.Equal(t, RoleProfessional, u.Role)
	assert.Equal(t, "https://api.soultalk.test/media/ada.png", u.Avatar)
	assert.Equal(t, VerificationVerified, u.VerificationStatus)
	require.NotNil(t, u.Rating)
	assert.Equal(t, 4.5, *u.Rating)
	require.NotNil(t, u.SessionsCompleted)
	assert.Equal(t, 12, *u.SessionsCompleted)
	assert.False(t, u.NotSignedIn)
}

func TestProfile_ToUser_NameFallsBackToUsername(t *testing.T) {
	p := Profile{ID: "3", Username: "quietfox", LastName: "Ignored", Role: RoleSeeker}
	assert.Equal(t, "quietfox", p.ToUser("").Name)
}

func TestAvatarURL(t *testing.T) {
	base := "http://localhost:8000"
	assert.Equal(t, "", AvatarURL("", base))
	assert.Equal(t, "https://cdn.example/a.png", AvatarURL("https://cdn.example/a.png", base))
	assert.Equal(t, "http://cdn.example/a.png", AvatarURL("http://cdn.example/a.png", base))
	assert.Equal(t, "http://localhost:8000/media/a.png", AvatarURL("/media/a.png", base))
}

func TestUserPatch_Apply(t *testing.T) {
	rating := 3.0
	orig := &User{ID: "1", Name: "Old", Role: RoleSeeker, Rating: &rating}

	name := "New Name"
	bio := "hello"
	patched := UserPatch{Name: &name, Bio: &bio}.Apply(orig)

	assert.Equal(t, "New Name", patched.Name)
	assert.Equal(t, "hello", patched.Bio)
	assert.Equal(t, RoleSeeker, patched.Role)
	assert.Equal(t, "Old", orig.Name, "original must not be mutated")

	*patched.Rating = 5
	assert.Equal(t, 3.0, *orig.Rating, "clone must not share pointers")
}

func TestUser_JSONOmitsTransientFlag(t *testing.T) {
	raw, err := json.Marshal(&User{ID: "1", Role: RoleSeeker})
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "not_signed_in")

	raw, err = json.Marshal(&User{ID: "1", NotSignedIn: true})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"not_signed_in":true`)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validSeekerForm() SignupForm {
	return SignupForm{
		Email:     "sam@example.com",
		Password:  "Str0ng!Pass",
		UserType:  RoleSeeker,
		FirstName: "Sam",
		LastName:  "Rivera",
	}
}

func TestSignupForm_ValidSeeker(t *testing.T) {
	f := validSeekerForm()
	assert.Nil(t, f.Validate(fixedNow))
}

func TestSignupForm_RequiredFields(t *testing.T) {
	var f SignupForm
	problems := f.Validate(fixedNow)
	for _, field := range []string{"email", "password", "role", "first_name", "last_name"} {
		assert.Contains(t, problems, field)
	}
}

func TestSignupForm_PasswordRules(t *testing.T) {
	f := validSeekerForm()
	f.Password = "weakpass"
	assert.Equal(t, "Include at least one uppercase letter", f.Validate(fixedNow)["password"])

	f.Password = "Rivera#2026x"
	assert.Equal(t, "Password cannot contain part of your name or email", f.Validate(fixedNow)["password"])
}

func TestSignupForm_InvalidRole(t *testing.T) {
	f := validSeekerForm()
	f.UserType = "admin"
	assert.Contains(t, f.Validate(fixedNow), "role")
}

func TestSignupForm_Underage(t *testing.T) {
	f := validSeekerForm()
	f.DOB = "2010-05-05"
	assert.Equal(t, "You must be 18 years or older.", f.Validate(fixedNow)["dob"])

	f.DOB = "05/05/1990"
	assert.Contains(t, f.Validate(fixedNow)["dob"], "2006-01-02")
}

func TestSignupForm_ProfessionalRequirements(t *testing.T) {
	f := validSeekerForm()
	f.UserType = RoleProfessional
	problems := f.Validate(fixedNow)
	for _, field := range []string{"phone", "dob", "id_type", "specialization", "id_image"} {
		assert.Equal(t, "is required", problems[field], field)
	}

	f.Phone = "+251 911 234 567"
	f.DOB = "1990-01-01"
	f.IDType = "passport"
	f.Specialization = "Anxiety"
	f.IDImage = &FileUpload{Filename: "id.png", Data: []byte("png")}
	f.Normalize()
	assert.Nil(t, f.Validate(fixedNow))
	assert.Equal(t, "+251911234567", f.Phone)
}

func TestSignupForm_NormalizeStripsMarkup(t *testing.T) {
	f := validSeekerForm()
	f.FirstName = "Sam<script>alert(1)</script>"
	f.Location = "<b>Addis</b>"
	f.Normalize()
	assert.Equal(t, "Sam", f.FirstName)
	assert.Equal(t, "bAddis/b", f.Location)
}
