package app

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"relayer/internal/domain"
)

const magicLinkAudience = "magic-link"

type sessionClaims struct {
	Email      string `json:"email"`
	SessionID  string `json:"sessionId"`
	SessionKey string `json:"sessionKey"`
	jwt.RegisteredClaims
}

// CredentialService issues and verifies HS256 session tokens and the
// short-lived magic-link tokens that are exchanged for them.
type CredentialService struct {
	secret       []byte
	sessionTTL   time.Duration
	magicLinkTTL time.Duration
	now          func() time.Time
}

// NewCredentialService creates a CredentialService signing with secret.
func NewCredentialService(secret string, sessionTTL, magicLinkTTL time.Duration) *CredentialService {
	return &CredentialService{
		secret:       []byte(secret),
		sessionTTL:   sessionTTL,
		magicLinkTTL: magicLinkTTL,
		now:          time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *CredentialService) WithClock(now func() time.Time) *CredentialService {
	s.now = now
	return s
}

// IssueSession creates a new session for email and returns it with its token.
func (s *CredentialService) IssueSession(email string) (domain.Session, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.Session{}, "", err
	}

	now := s.now()
	session := domain.Session{
		ID:         uuid.NewString(),
		Email:      email,
		SessionKey: uuid.NewString(),
		ExpiresAt:  now.Add(s.sessionTTL).Truncate(time.Second),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Email:      session.Email,
		SessionID:  session.ID,
		SessionKey: session.SessionKey,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return domain.Session{}, "", fmt.Errorf("sign session: %w", err)
	}
	return session, signed, nil
}

// Verify checks the token signature, structure and expiry. Every failure is
// reported as ErrInvalidCredential.
func (s *CredentialService) Verify(token string) (domain.Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if claims.SessionID == "" && claims.Email == "" {
		return domain.Session{}, fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}

	session := domain.Session{
		ID:         claims.SessionID,
		Email:      claims.Email,
		SessionKey: claims.SessionKey,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	if session.Expired(s.now()) {
		return domain.Session{}, fmt.Errorf("%w: expired", ErrInvalidCredential)
	}
	return session, nil
}

// MagicLink builds a sign-in link for email under baseURL's /auth/callback.
func (s *CredentialService) MagicLink(email, baseURL string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   email,
		Audience:  jwt.ClaimStrings{magicLinkAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.magicLinkTTL)),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign magic link: %w", err)
	}

	return strings.TrimRight(baseURL, "/") + "/auth/callback?token=" + url.QueryEscape(signed), nil
}

// RedeemMagicLink validates a magic-link token and issues a session for it.
func (s *CredentialService) RedeemMagicLink(token string) (domain.Session, string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, s.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(magicLinkAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Session{}, "", fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	return s.IssueSession(claims.Subject)
}

func (s *CredentialService) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("unexpected signing method")
	}
	return s.secret, nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}
