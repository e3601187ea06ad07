package validator

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	emailRe      = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneStripRe = regexp.MustCompile(`[^\d+]`)
	scriptRe     = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
)

// DateLayout is the wire format for dates of birth.
const DateLayout = "2006-01-02"

// PasswordContext carries the personal details a password must not contain.
type PasswordContext struct {
	FirstName string
	LastName  string
	Email     string
}

// ValidEmail reports whether s looks like local@domain.tld.
func ValidEmail(s string) bool {
	return emailRe.MatchString(s)
}

// PasswordProblems returns every rule the password breaks, in a fixed order.
// An empty result means the password is acceptable.
func PasswordProblems(password string, pc PasswordContext) []string {
	if password == "" {
		return []string{"Password is required"}
	}

	var problems []string
	if len([]rune(password)) < 8 {
		problems = append(problems, "Password must be at least 8 characters")
	}

	var upper, lower, digit, special, space bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
		if unicode.IsSpace(r) {
			space = true
		}
	}
	if !upper {
		problems = append(problems, "Include at least one uppercase letter")
	}
	if !lower {
		problems = append(problems, "Include at least one lowercase letter")
	}
	if !digit {
		problems = append(problems, "Include at least one number")
	}
	if !special {
		problems = append(problems, "Include at least one special character")
	}
	if space {
		problems = append(problems, "Password cannot contain spaces")
	}

	lowerPass := strings.ToLower(password)
	local, _, _ := strings.Cut(pc.Email, "@")
	for _, part := range []string{pc.FirstName, pc.LastName, local} {
		part = strings.ToLower(part)
		if len(part) >= 3 && strings.Contains(lowerPass, part) {
			problems = append(problems, "Password cannot contain part of your name or email")
			break
		}
	}
	return problems
}

// PasswordStrength returns the first problem with the password, or "".
func PasswordStrength(password string, pc PasswordContext) string {
	if p := PasswordProblems(password, pc); len(p) > 0 {
		return p[0]
	}
	return ""
}

// NormalizePhone strips everything but digits and '+'.
func NormalizePhone(phone string) string {
	return phoneStripRe.ReplaceAllString(phone, "")
}

// IsAtLeastAge reports whether someone born on dob (YYYY-MM-DD) is at least
// minAge full years old at now.
func IsAtLeastAge(dob string, minAge int, now time.Time) (bool, error) {
	birth, err := time.Parse(DateLayout, dob)
	if err != nil {
		return false, fmt.Errorf("parse date of birth: %w", err)
	}
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age >= minAge, nil
}

// SanitizeString removes <script> blocks and any remaining angle brackets.
func SanitizeString(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	return strings.NewReplacer("<", "", ">", "").Replace(s)
}
