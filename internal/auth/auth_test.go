package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/MusicRoom/internal/domain"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	require.True(t, v.Enabled())

	tok, err := v.Issue("alice", time.Minute)
	require.NoError(t, err)

	user, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), user)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("s3cret")
	other := NewVerifier("other")

	expired, err := v.Issue("alice", -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue("alice", time.Minute)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	wrongAlg, err := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	tests := []struct {
		name string
		tok  string
		want error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"expired", expired, ErrInvalidToken},
		{"foreign secret", foreign, ErrInvalidToken},
		{"no subject", noSubject, ErrInvalidToken},
		{"wrong algorithm", wrongAlg, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.tok)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifier_Disabled(t *testing.T) {
	assert.False(t, NewVerifier("").Enabled())
	var v *Verifier
	assert.False(t, v.Enabled())
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	tok, err = BearerToken("bearer  xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, h := range []string{"", "abc", "Basic abc", "Bearer "} {
		_, err := BearerToken(h)
		assert.ErrorIs(t, err, ErrMissingToken, h)
	}
}
