package service

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrWeakToken    = errors.New("token does not meet requirements")
	ErrInvalidHash  = errors.New("invalid token hash")
)

// minTokenLength is the shortest control token HashToken accepts.
const minTokenLength = 16

// ticketTTL bounds how long an event stream ticket stays valid.
const ticketTTL = time.Minute

// AuthService checks the control API bearer token against a bcrypt hash and
// issues short-lived tickets for the event stream, which browsers open
// without custom headers.
type AuthService struct {
	tokenHash []byte
	secretKey []byte
}

// NewAuthService returns a service that accepts every request when tokenHash
// is empty. An empty secretKey is replaced by a random one.
func NewAuthService(tokenHash, secretKey string) (*AuthService, error) {
	s := &AuthService{}

	if tokenHash != "" {
		if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHash, err)
		}
		s.tokenHash = []byte(tokenHash)
	}

	if secretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ticket key: %w", err)
		}
		s.secretKey = key
	} else {
		s.secretKey = []byte(secretKey)
	}
	return s, nil
}

func (s *AuthService) Enabled() bool {
	return len(s.tokenHash) > 0
}

func (s *AuthService) ValidateToken(token string) error {
	if !s.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// HashToken validates a new control token and returns its bcrypt hash.
func HashToken(token string) (string, error) {
	if err := validateTokenStrength(token); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWeakToken, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func validateTokenStrength(token string) error {
	if len(token) < minTokenLength {
		return fmt.Errorf("must be at least %d characters", minTokenLength)
	}
	if strings.TrimSpace(token) != token {
		return fmt.Errorf("must not start or end with whitespace")
	}
	return nil
}

// IssueTicket returns a signed "timestamp:signature" ticket.
func (s *AuthService) IssueTicket() string {
	return s.signTicket(time.Now())
}

func (s *AuthService) signTicket(at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(timestamp))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	return timestamp + ":" + signature
}

func (s *AuthService) ValidateTicket(ticket string) error {
	timestamp, signature, ok := strings.Cut(ticket, ":")
	if !ok {
		return ErrInvalidToken
	}

	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(timestamp))
	expected := base64.URLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidToken
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if time.Now().After(time.Unix(ts, 0).Add(ticketTTL)) {
		return ErrExpiredToken
	}
	return nil
}
