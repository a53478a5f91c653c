package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTripAndNext(t *testing.T) {
	tok := FromCounter(Initial)
	parsed, err := Parse(tok.String())
	require.NoError(t, err)
	assert.Equal(t, tok, parsed)

	next := tok.Next()
	assert.NotEqual(t, tok, next)
	assert.NotEqual(t, tok.String(), next.String())
	assert.Equal(t, uint64(2), next.Counter())
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "!!", "AAAAAAAAAAA", "AQ"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}

func TestTokenJSON(t *testing.T) {
	var body struct {
		Version Token `json:"version"`
	}
	body.Version = FromCounter(42)

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	var decoded struct {
		Version Token `json:"version"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, uint64(42), decoded.Version.Counter())
}
