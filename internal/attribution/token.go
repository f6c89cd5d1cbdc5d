package attribution

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const contextAudience = "attribution-context"

// ErrInvalidContext is returned for a context token that is malformed, expired or signed with another key.
var ErrInvalidContext = errors.New("invalid attribution context")

// ContextClaims is carried from the click redirect to the claim form.
type ContextClaims struct {
	CampaignID   uuid.UUID `json:"campaign_id"`
	VoucherID    uuid.UUID `json:"voucher_id"`
	BusinessID   uuid.UUID `json:"business_id"`
	ReferralCode string    `json:"referral_code"`
	jwt.RegisteredClaims
}

// ContextTokens signs and parses attribution context tokens.
type ContextTokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewContextTokens creates a token codec. ttl defaults to 24h.
func NewContextTokens(secret string, ttl time.Duration) *ContextTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ContextTokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for a resolved referral code.
func (t *ContextTokens) Issue(res *Resolution) (string, error) {
	now := t.now()
	claims := ContextClaims{
		CampaignID:   res.CampaignID,
		VoucherID:    res.VoucherID,
		BusinessID:   res.BusinessID,
		ReferralCode: res.ReferralCode,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{contextAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *ContextTokens) Parse(raw string) (*ContextClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &ContextClaims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(contextAudience),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidContext
	}
	claims, ok := token.Claims.(*ContextClaims)
	if !ok || !token.Valid || claims.ReferralCode == "" {
		return nil, ErrInvalidContext
	}
	return claims, nil
}
