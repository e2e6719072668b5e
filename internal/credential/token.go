package credential

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// segmentParser only decodes segments; signatures are the backend's concern.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// Expiry reads the exp claim of a JWT-shaped token without verifying it.
// The token must have exactly three dot-separated segments and the middle one
// must decode to a JSON object carrying a numeric exp. The header and signature
// segments are not inspected.
func Expiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}
	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, false
	}
	// GetExpirationTime truncates to jwt.TimePrecision; exp keeps its fraction here.
	seconds, ok := claims["exp"].(float64)
	if !ok {
		return time.Time{}, false
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))), true
}

// Valid reports whether token is structurally sound and exp is after now.
func Valid(token string, now time.Time) bool {
	exp, ok := Expiry(token)
	if !ok {
		return false
	}
	return exp.After(now)
}

// ExpiringSoon reports whether token expires within threshold of now.
// Tokens whose expiry cannot be determined count as expiring.
func ExpiringSoon(token string, now time.Time, threshold time.Duration) bool {
	exp, ok := Expiry(token)
	if !ok {
		return true
	}
	return exp.Sub(now) <= threshold
}
