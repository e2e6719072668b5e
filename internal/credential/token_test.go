package credential

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_750_000_000, 0)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "a@b.com",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return s
}

func rawToken(payload string) string {
	return "header." + base64.RawURLEncoding.EncodeToString([]byte(payload)) + ".sig"
}

func TestExpiry(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		wantOK bool
		want   int64
	}{
		{"signed jwt", signedToken(t, fixedNow.Add(time.Hour)), true, fixedNow.Add(time.Hour).Unix()},
		{"opaque header and signature", rawToken(`{"exp":1750003600}`), true, 1750003600},
		{"fractional exp", rawToken(`{"exp":1750003600.5}`), true, 1750003600},
		{"padded payload", "h." + base64.URLEncoding.EncodeToString([]byte(`{"exp":1750003600}`)) + ".s", true, 1750003600},
		{"empty", "", false, 0},
		{"two segments", "aaa.bbb", false, 0},
		{"four segments", "a.b.c.d", false, 0},
		{"payload not base64", "a.!!!.c", false, 0},
		{"payload not json", rawToken("not json"), false, 0},
		{"payload json array", rawToken(`[1,2,3]`), false, 0},
		{"missing exp", rawToken(`{"sub":"x"}`), false, 0},
		{"exp not numeric", rawToken(`{"exp":"tomorrow"}`), false, 0},
		{"opaque three-segment token", "aaa.bbb.ccc", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp, ok := Expiry(tt.token)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, exp.Unix())
			}
		})
	}
}

func TestExpiryKeepsFractionalSeconds(t *testing.T) {
	exp, ok := Expiry(rawToken(`{"exp":1750003600.5}`))
	require.True(t, ok)
	assert.Equal(t, time.Unix(1750003600, 5e8), exp)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(signedToken(t, fixedNow.Add(time.Second)), fixedNow))
	assert.False(t, Valid(signedToken(t, fixedNow), fixedNow), "exp equal to now is expired")
	assert.False(t, Valid(signedToken(t, fixedNow.Add(-time.Minute)), fixedNow))

	// Same second, exp later within it.
	fractional := rawToken(`{"exp":1750000000.9}`)
	assert.True(t, Valid(fractional, time.Unix(1_750_000_000, 2e8)))
	assert.False(t, Valid(fractional, time.Unix(1_750_000_000, 95e7)))

	for _, malformed := range []string{"", "x", "a.b", "a.b.c", rawToken(`{}`), rawToken(`null`)} {
		assert.NotPanics(t, func() {
			assert.False(t, Valid(malformed, fixedNow), malformed)
		})
	}
}

func TestExpiringSoon(t *testing.T) {
	threshold := 5 * time.Minute
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"well outside threshold", signedToken(t, fixedNow.Add(time.Hour)), false},
		{"one second outside threshold", signedToken(t, fixedNow.Add(threshold+time.Second)), false},
		{"exactly at threshold", signedToken(t, fixedNow.Add(threshold)), true},
		{"inside threshold", signedToken(t, fixedNow.Add(time.Minute)), true},
		{"already expired", signedToken(t, fixedNow.Add(-time.Minute)), true},
		{"unknown expiry", "aaa.bbb.ccc", true},
		{"no token", "", true},
		{"half a second outside threshold", rawToken(`{"exp":1750000300.5}`), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpiringSoon(tt.token, fixedNow, threshold))
		})
	}
}
