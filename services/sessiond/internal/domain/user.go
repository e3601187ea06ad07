package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// VerificationStatus tracks review of a provider account.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// RejectionReasonType classifies why a provider account was rejected.
type RejectionReasonType string

const (
	RejectionInvalidID           RejectionReasonType = "invalid_id"
	RejectionUnclearCertificates RejectionReasonType = "unclear_certificates"
	RejectionFakeProfile         RejectionReasonType = "fake_profile"
	RejectionInsufficientBio     RejectionReasonType = "insufficient_bio"
	RejectionOther               RejectionReasonType = "other"
)

// User is the signed-in identity as the client sees it. It is what gets
// cached under the "user" credential key and returned by sessiond.
type User struct {
	ID                  string              `json:"id"`
	Email               string              `json:"email"`
	Name                string              `json:"name"`
	Role                Role                `json:"role"`
	Avatar              string              `json:"avatar"`
	Verified            bool                `json:"verified"`
	VerificationStatus  VerificationStatus  `json:"verification_status,omitempty"`
	RejectionReason     string              `json:"rejection_reason,omitempty"`
	RejectionReasonType RejectionReasonType `json:"rejection_reason_type,omitempty"`
	Bio                 string              `json:"bio,omitempty"`
	Rating              *float64            `json:"rating,omitempty"`
	SessionsCompleted   *int                `json:"sessions_completed,omitempty"`

	// NotSignedIn is set only on the value returned by a login that was
	// refused by the verification gate. It is never persisted.
	NotSignedIn bool `json:"not_signed_in,omitempty"`
}

// ViolatesVerificationGate reports whether this user must not hold a
// session: a provider role that has not been verified.
func (u *User) ViolatesVerificationGate() bool {
	return u.Role.RequiresVerification() && !u.Verified
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Rating != nil {
		r := *u.Rating
		c.Rating = &r
	}
	if u.SessionsCompleted != nil {
		s := *u.SessionsCompleted
		c.SessionsCompleted = &s
	}
	return &c
}

// FlexibleID decodes an identifier sent as either a JSON number or string.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

// Profile is the payload of GET /api/auth/me/.
type Profile struct {
	ID                  FlexibleID          `json:"id"`
	Username            string              `json:"username"`
	Email               string              `json:"email"`
	FirstName           string              `json:"first_name"`
	LastName            string              `json:"last_name"`
	Role                Role                `json:"role"`
	ProfilePhoto        string              `json:"profile_photo"`
	Verified            bool                `json:"verified"`
	VerificationStatus  VerificationStatus  `json:"verification_status"`
	RejectionReason     string              `json:"rejection_reason"`
	RejectionReasonType RejectionReasonType `json:"rejection_reason_type"`
	Bio                 string              `json:"bio"`
	Rating              *float64            `json:"rating"`
	SessionsCompleted   *int                `json:"sessions_completed"`
}

// ToUser derives the client-side User. Relative photo paths are resolved
// against baseURL.
func (p *Profile) ToUser(baseURL string) *User {
	name := p.Username
	if p.FirstName != "" {
		name = p.FirstName + " " + p.LastName
	}
	return &User{
		ID:                  string(p.ID),
		Email:               p.Email,
		Name:                name,
		Role:                p.Role,
		Avatar:              AvatarURL(p.ProfilePhoto, baseURL),
		Verified:            p.Verified,
		VerificationStatus:  p.VerificationStatus,
		RejectionReason:     p.RejectionReason,
		RejectionReasonType: p.RejectionReasonType,
		Bio:                 p.Bio,
		Rating:              p.Rating,
		SessionsCompleted:   p.SessionsCompleted,
	}
}

// AvatarURL keeps absolute http(s) URLs and prefixes anything else with
// baseURL. An empty photo yields "".
func AvatarURL(photo, baseURL string) string {
	if photo == "" {
		return ""
	}
	if strings.HasPrefix(photo, "http") {
		return photo
	}
	return baseURL + photo
}

// UserPatch is a partial update of the cached user. Nil fields are left
// unchanged.
type UserPatch struct {
	Name                *string              `json:"name,omitempty"`
	Email               *string              `json:"email,omitempty" validate:"omitempty,email"`
	Role                *Role                `json:"role,omitempty"`
	Avatar              *string              `json:"avatar,omitempty"`
	Verified            *bool                `json:"verified,omitempty"`
	VerificationStatus  *VerificationStatus  `json:"verification_status,omitempty"`
	RejectionReason     *string              `json:"rejection_reason,omitempty"`
	RejectionReasonType *RejectionReasonType `json:"rejection_reason_type,omitempty"`
	Bio                 *string              `json:"bio,omitempty"`
	Rating              *float64             `json:"rating,omitempty"`
	SessionsCompleted   *int                 `json:"sessions_completed,omitempty"`
}

// Apply returns a copy of u with the patch merged in.
func (p UserPatch) Apply(u *User) *User {
	out := u.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Email != nil {
		out.Email = *p.Email
	}
	if p.Role != nil {
		out.Role = *p.Role
	}
	if p.Avatar != nil {
		out.Avatar = *p.Avatar
	}
	if p.Verified != nil {
		out.Verified = *p.Verified
	}
	if p.VerificationStatus != nil {
		out.VerificationStatus = *p.VerificationStatus
	}
	if p.RejectionReason != nil {
		out.RejectionReason = *p.RejectionReason
	}
	if p.RejectionReasonType != nil {
		out.RejectionReasonType = *p.RejectionReasonType
	}
	if p.Bio != nil {
		out.Bio = *p.Bio
	}
	if p.Rating != nil {
		r := *p.Rating
		out.Rating = &r
	}
	if p.SessionsCompleted != nil {
		s := *p.SessionsCompleted
		out.SessionsCompleted = &s
	}
	return out
}

// TokenPair is the body of a successful login or refresh. Refresh is empty
// when the backend does not rotate refresh tokens.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}
