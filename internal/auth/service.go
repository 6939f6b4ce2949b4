// Package auth guards the control API with a single operator account:
// HTTP Basic credentials checked against a bcrypt hash, or a bearer JWT
// issued by Login.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

const (
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "hexanator"
)

// Config is the [server.auth] config section.
type Config struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Username string `toml:"username" mapstructure:"username"`
	// PasswordHash is a bcrypt hash, see HashPassword.
	PasswordHash string `toml:"password_hash" mapstructure:"password_hash"`
	// JWTSecret signs tokens; a random secret is used when empty, which
	// invalidates tokens on restart.
	JWTSecret string        `toml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl" mapstructure:"token_ttl"`
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	username  string
	hash      []byte
	jwtSecret []byte
	tokenTTL  time.Duration
	now       func() time.Time
}

func NewService(c Config) (*Service, error) {
	if c.Username == "" {
		return nil, errors.New("auth: username is required")
	}
	if _, err := bcrypt.Cost([]byte(c.PasswordHash)); err != nil {
		return nil, fmt.Errorf("auth: password_hash is not a bcrypt hash: %w", err)
	}
	secret := []byte(c.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	ttl := c.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		username:  c.Username,
		hash:      []byte(c.PasswordHash),
		jwtSecret: secret,
		tokenTTL:  ttl,
		now:       time.Now,
	}, nil
}

// HashPassword returns the bcrypt hash to put into password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: empty password")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword verifies username and password.
func (s *Service) CheckPassword(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	// always run bcrypt so timing does not reveal the username
	pwErr := bcrypt.CompareHashAndPassword(s.hash, []byte(password))
	if !userOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Login exchanges valid credentials for a bearer token.
func (s *Service) Login(username, password string) (Token, error) {
	if err := s.CheckPassword(username, password); err != nil {
		return Token{}, err
	}
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   username,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt}, nil
}

// Verify validates a bearer token and returns its claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidCredentials
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.Username != s.username {
		return nil, ErrInvalidCredentials
	}
	return claims, nil
}
