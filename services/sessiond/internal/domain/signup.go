package domain

import (
	"errors"
	"time"

	"github.com/Yoseph-M/Soultalk-sub000/pkg/validator"
)

// MinimumAge is the youngest a provider may be at registration.
const MinimumAge = 18

// FileUpload is a file attached to a registration.
type FileUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SignupForm is a registration request. Tags name the multipart fields the
// backend expects.
type SignupForm struct {
	Email     string `json:"email" form:"email" validate:"required,email"`
	Password  string `json:"password" form:"password" validate:"required"`
	UserType  Role   `json:"role" form:"role" validate:"required,oneof=seeker listener professional client"`
	FirstName string `json:"first_name" form:"first_name" validate:"required,max=150"`
	LastName  string `json:"last_name" form:"last_name" validate:"required,max=150"`

	Phone            string `json:"phone,omitempty" form:"phone" validate:"omitempty,phone"`
	DOB              string `json:"dob,omitempty" form:"dob" validate:"omitempty,datetime=2006-01-02"`
	Specialization   string `json:"specialization,omitempty" form:"specialization"`
	IDType           string `json:"id_type,omitempty" form:"id_type"`
	IDNumber         string `json:"id_number_input,omitempty" form:"id_number_input"`
	IssuingAuthority string `json:"issuing_authority_input,omitempty" form:"issuing_authority_input"`
	Location         string `json:"location,omitempty" form:"location"`

	ProfilePhoto *FileUpload `json:"-"`
	IDImage      *FileUpload `json:"-"`
	IDImageBack  *FileUpload `json:"-"`
	Certificates *FileUpload `json:"-"`

	// SkipLogin registers without signing in afterwards. Providers use it
	// because they cannot sign in until verified.
	SkipLogin bool `json:"skip_login,omitempty" form:"skip_login"`
}

// Normalize strips markup from free-text fields and normalizes
// the phone number.
func (f *SignupForm) Normalize() {
	for _, s := range []*string{
		&f.Email, &f.FirstName, &f.LastName, &f.Specialization,
		&f.IDType, &f.IDNumber, &f.IssuingAuthority, &f.Location, &f.DOB,
	} {
		*s = validator.SanitizeString(*s)
	}
	if f.Phone != "" {
		f.Phone = validator.NormalizePhone(f.Phone)
	}
}

// Validate checks the form and returns per-field messages, or nil when the
// form is acceptable. now anchors the minimum-age check.
func (f *SignupForm) Validate(now time.Time) map[string]string {
	problems := map[string]string{}

	if err := validator.Validate(f); err != nil {
		var verr *validator.ValidationError
		if !errors.As(err, &verr) {
			problems["form"] = err.Error()
			return problems
		}
		for k, v := range verr.Fields() {
			problems[k] = v
		}
	}

	if _, bad := problems["password"]; !bad {
		pc := validator.PasswordContext{FirstName: f.FirstName, LastName: f.LastName, Email: f.Email}
		if msg := validator.PasswordStrength(f.Password, pc); msg != "" {
			problems["password"] = msg
		}
	}

	if f.DOB != "" {
		if _, bad := problems["dob"]; !bad {
			if ok, err := validator.IsAtLeastAge(f.DOB, MinimumAge, now); err == nil && !ok {
				problems["dob"] = "You must be 18 years or older."
			}
		}
	}

	if f.UserType == RoleProfessional {
		required := map[string]bool{
			"phone":          f.Phone != "",
			"dob":            f.DOB != "",
			"id_type":        f.IDType != "",
			"specialization": f.Specialization != "",
			"id_image":       f.IDImage != nil,
		}
		for field, present := range required {
			if _, seen := problems[field]; !present && !seen {
				problems[field] = "is required"
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return problems
}
