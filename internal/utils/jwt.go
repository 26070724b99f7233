package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA-256 hashing for refresh tokens
	"encoding/hex"  // hex encoding for token material
	"errors"        // sentinel errors for verification failures
	"strconv"       // subject claim <-> numeric user ID
	"time"          // expiry computation

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// Verification failure reasons. Middleware logs the specific cause and
// returns a generic message to the caller, so the three cases must stay
// distinguishable here.
var (
	ErrTokenMalformed    = errors.New("access token malformed")
	ErrTokenBadSignature = errors.New("access token signature invalid")
	ErrTokenExpired      = errors.New("access token expired")
)

// AccessClaims is the payload embedded in every access token: the
// user's identity, role key, and a snapshot of the role's permission
// keys at issuance time. The snapshot may go stale until the next
// refresh; that staleness is bounded by the token TTL.
type AccessClaims struct {
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// AccessToken represents a signed JWT access token along with its expiry.
// Access tokens are short-lived and carried in the Authorization header
// when calling protected endpoints.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long-lived opaque token used to obtain new
// access tokens. The Raw field is returned to the client; the database
// stores only a SHA-256 hash of it.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// NewAccessToken builds and signs an HS256 JWT for a user. The subject
// is the user ID; email, role key and the permission snapshot ride as
// custom claims next to the standard exp/iat pair.
func NewAccessToken(secret string, userID uint64, email, roleKey string, permissions []string, ttlMin int) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(time.Duration(ttlMin) * time.Minute)
	claims := AccessClaims{
		Email:       email,
		Role:        roleKey,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// VerifyAccessToken parses and validates a signed access token. It
// returns the embedded claims on success, or one of the sentinel
// errors above naming the failure cause.
func VerifyAccessToken(secret, raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenBadSignature
		}
		return []byte(secret), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenBadSignature
		default:
			return nil, ErrTokenMalformed
		}
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// UserID parses the subject claim back into the numeric user ID.
func (c *AccessClaims) UserID() (uint64, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrTokenMalformed
	}
	return id, nil
}

// HasPermission reports membership in the embedded permission snapshot.
// It is a pure function over the explicit set; any future permission
// inheritance or grouping layers on top of this check.
func (c *AccessClaims) HasPermission(key string) bool {
	for _, p := range c.Permissions {
		if p == key {
			return true
		}
	}
	return false
}

// NewRefreshToken returns a cryptographically secure random token (raw)
// and its expiration time. The ttlDays parameter controls how many days
// the refresh token is valid.
func NewRefreshToken(ttlDays int) (RefreshToken, error) {
	raw, err := randomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{
		Raw: raw,
		Exp: time.Now().UTC().Add(time.Duration(ttlDays) * 24 * time.Hour),
	}, nil
}

// HashRefreshRaw returns the SHA-256 hash of the raw refresh token as a
// hex string. Storing only the hash prevents attackers from using
// stolen database entries to refresh sessions.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

