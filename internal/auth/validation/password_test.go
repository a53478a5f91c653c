package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"

	apierr "github.com/victorgomez09/suivi/internal/auth"
)

func TestValidateStrengthFirstFailingRule(t *testing.T) {
	v := NewPasswordValidator(DefaultPasswordPolicy())

	cases := []struct {
		password string
		want     error
	}{
		{"Ab1!xyz", ErrPasswordTooShort}, // 7 characters, otherwise valid
		{"ab1!", ErrPasswordTooShort},    // every rule broken, length reported first
		{"abcdef1!", ErrMissingUppercase},
		{"ABCDEF1!", ErrMissingLowercase},
		{"Abcdefg!", ErrMissingNumber},
		{"Abcdefg1", ErrMissingSpecial},
		{"Abc def1!", ErrContainsSpace},
		{"Abcdef1!\t", ErrContainsSpace},
		{"Ab1!xyzw", nil}, // exactly 8
		{"Pässwörd1!", nil},
	}
	for _, tc := range cases {
		err := v.ValidateStrength(tc.password)
		if tc.want == nil {
			assert.NoError(t, err, tc.password)
			continue
		}
		assert.Equal(t, tc.want, err, tc.password)
		assert.True(t, errors.Is(err, apierr.ErrValidation), tc.password)
	}
}

func TestCheckReuse(t *testing.T) {
	hash := func(p string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.MinCost)
		assert.NoError(t, err)
		return string(h)
	}
	history := []string{hash("Old-pass1"), hash("Older-pass2")}

	assert.True(t, CheckReuse("Older-pass2", history))
	assert.False(t, CheckReuse("Brand-new3", history))
	assert.False(t, CheckReuse("Old-pass1", nil))
}

func TestRequirementsListed(t *testing.T) {
	v := NewPasswordValidator(PasswordPolicy{})
	reqs := v.Requirements()
	assert.Len(t, reqs, 6)
	assert.Equal(t, ErrPasswordTooShort.Reason, reqs[0])
}
