// auth/validation/password.go
package validation

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"

	apierr "github.com/victorgomez09/suivi/internal/auth"
)

var (
	ErrPasswordTooShort = &apierr.Error{Kind: apierr.KindValidation, Reason: "password must be at least 8 characters long"}
	ErrPasswordTooLong  = &apierr.Error{Kind: apierr.KindValidation, Reason: "password is too long"}
	ErrMissingUppercase = &apierr.Error{Kind: apierr.KindValidation, Reason: "password must contain at least one uppercase letter"}
	ErrMissingLowercase = &apierr.Error{Kind: apierr.KindValidation, Reason: "password must contain at least one lowercase letter"}
	ErrMissingNumber    = &apierr.Error{Kind: apierr.KindValidation, Reason: "password must contain at least one number"}
	ErrMissingSpecial   = &apierr.Error{Kind: apierr.KindValidation, Reason: "password must contain at least one special character"}
	ErrContainsSpace    = &apierr.Error{Kind: apierr.KindValidation, Reason: "password must not contain whitespace"}
	ErrPasswordReused   = &apierr.Error{Kind: apierr.KindValidation, Reason: "password has been used recently"}
	ErrPasswordMissing  = &apierr.Error{Kind: apierr.KindValidation, Reason: "password is required"}
)

type PasswordPolicy struct {
	MinLength int
	// MaxLength is bounded by bcrypt, which ignores input past 72 bytes.
	MaxLength int
}

// DefaultPasswordPolicy returns the policy applied to local identities.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength: 8,
		MaxLength: 72,
	}
}

type PasswordValidator struct {
	policy PasswordPolicy
}

func NewPasswordValidator(policy PasswordPolicy) *PasswordValidator {
	if policy.MinLength <= 0 {
		policy.MinLength = 8
	}
	if policy.MaxLength <= 0 || policy.MaxLength > 72 {
		policy.MaxLength = 72
	}
	return &PasswordValidator{policy: policy}
}

// ValidateStrength returns the first violated rule. Only one violation is ever reported.
// Order: length, uppercase, lowercase, digit, special, whitespace.
func (v *PasswordValidator) ValidateStrength(password string) error {
	n := len([]rune(password))
	if n < v.policy.MinLength {
		return ErrPasswordTooShort
	}
	if len(password) > v.policy.MaxLength {
		return ErrPasswordTooLong
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
		hasSpace   bool
	)

	for _, char := range password {
		switch {
		case unicode.IsSpace(char):
			hasSpace = true
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	switch {
	case !hasUpper:
		return ErrMissingUppercase
	case !hasLower:
		return ErrMissingLowercase
	case !hasNumber:
		return ErrMissingNumber
	case !hasSpecial:
		return ErrMissingSpecial
	case hasSpace:
		return ErrContainsSpace
	}
	return nil
}

// Requirements lists the rules for display on the password change form.
func (v *PasswordValidator) Requirements() []string {
	return []string{
		ErrPasswordTooShort.Reason,
		ErrMissingUppercase.Reason,
		ErrMissingLowercase.Reason,
		ErrMissingNumber.Reason,
		ErrMissingSpecial.Reason,
		ErrContainsSpace.Reason,
	}
}

// CheckReuse reports whether candidate matches any of the given bcrypt hashes.
// The comparison is one-way; plaintext is never compared.
func CheckReuse(candidate string, history []string) bool {
	for _, prevHash := range history {
		if err := bcrypt.CompareHashAndPassword([]byte(prevHash), []byte(candidate)); err == nil {
			return true
		}
	}
	return false
}
