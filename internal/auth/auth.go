package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sage-app/internal/config"
	"sage-app/internal/logger"
	"sage-app/internal/repository/db"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password
var ErrInvalidCredentials = errors.New("invalid credentials")

type contextKey string

const userContextKey contextKey = "user"

// Claims identifies the authenticated user. The user id travels as the subject.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID returns the id of the authenticated user
func (c *Claims) UserID() string {
	return c.Subject
}

// WithClaims stores claims on ctx
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// ClaimsFromContext returns the claims stored by WithClaims
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(userContextKey).(*Claims)
	return claims, ok && claims != nil
}

// TokenService issues and validates HS256 tokens
type TokenService struct {
	secret     []byte
	expiration time.Duration
}

// NewTokenService creates a TokenService from auth config
func NewTokenService(cfg config.AuthConfig) *TokenService {
	return &TokenService{secret: cfg.JWTSecret, expiration: cfg.TokenExpiration}
}

// GenerateToken issues a token for user
func (t *TokenService) GenerateToken(user *db.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(t.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// ValidateToken parses a token and returns its claims
func (t *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// Service registers and logs in users
type Service struct {
	db     db.Database
	tokens *TokenService
}

// NewService creates a new auth Service
func NewService(database db.Database, tokens *TokenService) *Service {
	return &Service{db: database, tokens: tokens}
}

// Register creates a user and returns a token for it
func (s *Service) Register(ctx context.Context, username, email, password string) (string, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}

	user, err := s.db.CreateUser(ctx, username, email, string(hashedPassword))
	if err != nil {
		return "", err
	}

	logger.Log.WithFields(logrus.Fields{"username": username, "user_id": user.ID}).Info("Created new user")
	return s.tokens.GenerateToken(user)
}

// Login verifies the password and returns a token
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			logger.Log.WithField("username", username).Warn("Login failed: user not found")
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("error retrieving user: %w", err)
	}

	if !VerifyPassword(user, password) {
		logger.Log.WithField("username", username).Warn("Login failed: invalid password")
		return "", ErrInvalidCredentials
	}

	logger.Log.WithField("username", username).Info("User logged in successfully")
	return s.tokens.GenerateToken(user)
}

// VerifyPassword checks if the provided password matches the user's hashed password
func VerifyPassword(user *db.User, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password))
	return err == nil
}

// SeedDemoUser creates the demo user if it doesn't exist
func (s *Service) SeedDemoUser(ctx context.Context) error {
	if _, err := s.db.GetUserByUsername(ctx, "demo"); err == nil {
		logger.Log.Info("Demo user already exists, skipping seed")
		return nil
	}

	if _, err := s.Register(ctx, "demo", "demo@example.com", "demo123"); err != nil && !errors.Is(err, db.ErrUsernameTaken) {
		return fmt.Errorf("error seeding demo user: %w", err)
	}

	logger.Log.Info("Demo user seeded successfully")
	return nil
}
