package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RolePatient = "Patient"
	RoleDoctor  = "Doctor"
	RoleAdmin   = "Admin"
)

const (
	SessionTTL    = 24 * time.Hour
	ResetTokenTTL = time.Hour

	purposeSession = "session"
	purposeReset   = "password_reset"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of every token this service signs. Session tokens
// carry the role profile; reset tokens only the subject.
type Claims struct {
	jwt.RegisteredClaims
	Purpose   string  `json:"purpose"`
	Role      string  `json:"role,omitempty"`
	KYCStatus string  `json:"kyc_status,omitempty"`
	DoctorID  *string `json:"doctorId"`
}

// Identity is what a session token says about its bearer.
type Identity struct {
	UserID    uuid.UUID
	Role      string
	KYCStatus string
	DoctorID  *uuid.UUID
}

// TokenIssuer mints and verifies HS256 tokens.
type TokenIssuer struct {
	key    []byte
	issuer string
	now    func() time.Time
}

func NewTokenIssuer(secret []byte, issuer string) *TokenIssuer {
	return &TokenIssuer{key: secret, issuer: issuer, now: time.Now}
}

// IssueSession returns a signed token valid for SessionTTL.
func (t *TokenIssuer) IssueSession(id Identity) (string, *Claims, error) {
	now := t.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   id.UserID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTTL)),
		},
		Purpose:   purposeSession,
		Role:      id.Role,
		KYCStatus: id.KYCStatus,
	}
	if id.DoctorID != nil {
		s := id.DoctorID.String()
		claims.DoctorID = &s
	}
	signed, err := t.sign(claims)
	return signed, claims, err
}

// IssueReset returns a password reset token and its expiry.
func (t *TokenIssuer) IssueReset(userID uuid.UUID) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(ResetTokenTTL)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Purpose: purposeReset,
	}
	signed, err := t.sign(claims)
	return signed, exp, err
}

func (t *TokenIssuer) sign(claims *Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseSession verifies signature, expiry and purpose of a session token.
func (t *TokenIssuer) ParseSession(token string) (*Claims, error) {
	return t.parse(token, purposeSession)
}

// ParseReset verifies a password reset token and returns its subject.
func (t *TokenIssuer) ParseReset(token string) (uuid.UUID, error) {
	claims, err := t.parse(token, purposeReset)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.Subject)
}

func (t *TokenIssuer) parse(token, purpose string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Identity converts verified claims back into an Identity.
func (c *Claims) Identity() Identity {
	id := Identity{Role: c.Role, KYCStatus: c.KYCStatus}
	id.UserID, _ = uuid.Parse(c.Subject)
	if c.DoctorID != nil {
		if d, err := uuid.Parse(*c.DoctorID); err == nil {
			id.DoctorID = &d
		}
	}
	return id
}
