// Package version implements the opaque row version tokens used for optimistic concurrency.
//
// A token wraps the per-row counter stored in the `version` column. Counters only ever grow,
// so a token is never reissued for the same row.
package version

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
)

// Initial is the counter assigned to a freshly inserted row.
const Initial uint64 = 1

var ErrMalformed = errors.New("malformed version token")

var encoding = base64.RawURLEncoding

// Token is comparable for equality only; clients must treat it as opaque.
type Token struct {
	n uint64
}

func FromCounter(n uint64) Token {
	return Token{n: n}
}

// Parse decodes a token produced by String.
func Parse(s string) (Token, error) {
	if s == "" {
		return Token{}, ErrMalformed
	}
	raw, err := encoding.DecodeString(s)
	if err != nil || len(raw) != 8 {
		return Token{}, ErrMalformed
	}
	n := binary.BigEndian.Uint64(raw)
	if n == 0 {
		return Token{}, ErrMalformed
	}
	return Token{n: n}, nil
}

func (t Token) String() string {
	if t.n == 0 {
		return ""
	}
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], t.n)
	return encoding.EncodeToString(raw[:])
}

// Counter exposes the stored column value to the persistence layer.
func (t Token) Counter() uint64 {
	return t.n
}

// Next is the token a successful conditional update produces.
func (t Token) Next() Token {
	return Token{n: t.n + 1}
}

func (t Token) IsZero() bool {
	return t.n == 0
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Token) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = Token{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
