package services

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"ripple-chat/config"
	"ripple-chat/internal/domain"
	"ripple-chat/internal/repository"
	ripple_errors "ripple-chat/pkg/errors"
)

type AuthService struct {
	users     repository.UserRepository
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(users repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		users:     users,
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: time.Duration(cfg.JWTExpiryMin) * time.Minute,
	}
}

type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	User        domain.User `json:"user"`
}

type AccessClaims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (AuthResponse, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.Email == "" || len(in.Password) < 8 {
		return AuthResponse{}, ripple_errors.ErrInvalidPayload
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	user := domain.User{
		ID:           uuid.New(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		Avatar:       in.Avatar,
		Status:       domain.UserOffline,
		LastActive:   time.Now(),
	}
	if err := s.users.Create(ctx, &user); err != nil {
		return AuthResponse{}, err
	}

	return s.issueToken(user)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResponse, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Email == "" || in.Password == "" {
		return AuthResponse{}, ripple_errors.ErrInvalidPayload
	}

	user, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return AuthResponse{}, ripple_errors.ErrAuthenticationFailed
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)) != nil {
		return AuthResponse{}, ripple_errors.ErrAuthenticationFailed
	}

	return s.issueToken(user)
}

func (s *AuthService) issueToken(user domain.User) (AuthResponse, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: user.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{
		AccessToken: signed,
		ExpiresIn:   int64(s.accessTTL.Seconds()),
		User:        user,
	}, nil
}

// ParseAccessToken validates a bearer token and returns the user id it
// carries. Used by both the HTTP middleware and the websocket upgrade.
func (s *AuthService) ParseAccessToken(tokenString string) (uuid.UUID, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ripple_errors.ErrAuthenticationFailed
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ripple_errors.ErrAuthenticationFailed
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, ripple_errors.ErrAuthenticationFailed
	}
	return userID, nil
}
