// Package qrtoken mints and verifies the payload embedded in a claim's redemption QR code.
//
// The digest is an HMAC-SHA256 over the canonical string
// claimId|voucherId|userId|businessId|expiryEpochSeconds, keyed with a key derived from
// the server secret. Older clients minted an unkeyed SHA-256 over the same string;
// those digests verify only when legacy mode is enabled.
package qrtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// TypeClaimVoucher marks a claimed-voucher payload.
const TypeClaimVoucher = "cv"

const keyInfo = "coupon-qr-token/v1"

var (
	// ErrMalformed is returned when the scanned text is not a token payload.
	ErrMalformed = errors.New("malformed qr payload")
	// ErrTokenInvalid is returned when the digest does not match the payload fields.
	ErrTokenInvalid = errors.New("qr token digest mismatch")
)

// Payload is the QR content. Keys are short to keep the code small.
type Payload struct {
	ClaimID    uuid.UUID `json:"c"`
	VoucherID  uuid.UUID `json:"v"`
	Code       string    `json:"k"`
	BusinessID uuid.UUID `json:"b"`
	UserID     uuid.UUID `json:"u"`
	Type       string    `json:"t"`
	IssuedAt   int64     `json:"i"`
	ExpiresAt  int64     `json:"e"`
	Hash       string    `json:"h"`
}

// Canonical returns the string the digest covers.
func (p Payload) Canonical() string {
	return strings.Join([]string{
		p.ClaimID.String(),
		p.VoucherID.String(),
		p.UserID.String(),
		p.BusinessID.String(),
		strconv.FormatInt(p.ExpiresAt, 10),
	}, "|")
}

// Expiry returns ExpiresAt as a time.
func (p Payload) Expiry() time.Time {
	return time.Unix(p.ExpiresAt, 0)
}

// Input carries the claim fields a token is minted from.
type Input struct {
	ClaimID    uuid.UUID
	VoucherID  uuid.UUID
	Code       string
	BusinessID uuid.UUID
	UserID     uuid.UUID
	ExpiresAt  time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithLegacyDigest accepts unkeyed SHA-256 digests during verification.
func WithLegacyDigest() Option {
	return func(s *Signer) { s.legacy = true }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// Signer mints and verifies payloads.
type Signer struct {
	key    []byte
	legacy bool
	now    func() time.Time
}

// NewSigner derives the HMAC key from secret.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("qr secret is empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive qr key: %w", err)
	}
	s := &Signer{key: key, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint builds a signed payload and its JSON encoding.
func (s *Signer) Mint(in Input) (Payload, string, error) {
	p := Payload{
		ClaimID:    in.ClaimID,
		VoucherID:  in.VoucherID,
		Code:       in.Code,
		BusinessID: in.BusinessID,
		UserID:     in.UserID,
		Type:       TypeClaimVoucher,
		IssuedAt:   s.now().Unix(),
		ExpiresAt:  in.ExpiresAt.Unix(),
	}
	p.Hash = s.digest(p.Canonical())
	raw, err := json.Marshal(p)
	if err != nil {
		return Payload{}, "", fmt.Errorf("marshal qr payload: %w", err)
	}
	return p, string(raw), nil
}

// Parse decodes scanned text into a payload without verifying it.
func Parse(raw string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if p.Type != TypeClaimVoucher || p.ClaimID == uuid.Nil || p.VoucherID == uuid.Nil ||
		p.BusinessID == uuid.Nil || p.UserID == uuid.Nil || p.Hash == "" {
		return nil, ErrMalformed
	}
	return &p, nil
}

// Verify recomputes the digest and compares it in constant time.
// Expiry is not checked here; the claim's own expiry date is authoritative.
func (s *Signer) Verify(p *Payload) error {
	got, err := hex.DecodeString(p.Hash)
	if err != nil {
		return ErrTokenInvalid
	}
	canonical := p.Canonical()
	if hmac.Equal(got, s.mac(canonical)) {
		return nil
	}
	if s.legacy {
		sum := sha256.Sum256([]byte(canonical))
		if hmac.Equal(got, sum[:]) {
			return nil
		}
	}
	return ErrTokenInvalid
}

// Digest returns the hex digest for a canonical string.
func (s *Signer) Digest(canonical string) string {
	return s.digest(canonical)
}

func (s *Signer) digest(canonical string) string {
	return hex.EncodeToString(s.mac(canonical))
}

func (s *Signer) mac(canonical string) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(canonical))
	return h.Sum(nil)
}
