package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Token validation failures. Callers map all of them to 403 but may word the
// expired case differently.
var (
	ErrTokenMalformed = errors.New("malformed download token")
	ErrTokenSignature = errors.New("download token signature mismatch")
	ErrTokenExpired   = errors.New("download token expired")
)

// DownloadClaims binds a download token to one stored attachment.
type DownloadClaims struct {
	DonationID   string `json:"d"`
	AttachmentID string `json:"a"`
	Path         string `json:"p"`
	ExpiresAt    int64  `json:"e"`
}

// Expiry returns the expiry as a time value.
func (c DownloadClaims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// SignedURLSigner issues and checks HMAC-SHA256 download tokens of the form
// base64url(claims) "." base64url(mac).
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns a token for the attachment valid for the signer TTL.
func (s *SignedURLSigner) Sign(donationID, attachmentID, path string) (string, time.Time, error) {
	if donationID == "" || attachmentID == "" || path == "" {
		return "", time.Time{}, errors.New("donation id, attachment id and path are required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	payload, err := json.Marshal(DownloadClaims{
		DonationID:   donationID,
		AttachmentID: attachmentID,
		Path:         path,
		ExpiresAt:    expiresAt.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.mac(encoded), expiresAt, nil
}

// Verify checks the signature and expiry and returns the embedded claims.
func (s *SignedURLSigner) Verify(token string) (DownloadClaims, error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok || encoded == "" || signature == "" {
		return DownloadClaims{}, ErrTokenMalformed
	}
	if !hmac.Equal([]byte(s.mac(encoded)), []byte(signature)) {
		return DownloadClaims{}, ErrTokenSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return DownloadClaims{}, ErrTokenMalformed
	}
	var claims DownloadClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return DownloadClaims{}, ErrTokenMalformed
	}
	if !s.now().Before(claims.Expiry()) {
		return claims, ErrTokenExpired
	}
	return claims, nil
}

func (s *SignedURLSigner) mac(encoded string) string {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
