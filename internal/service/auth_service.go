package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"milestone-tracker/internal/model"
	"milestone-tracker/internal/repository"
	"milestone-tracker/pkg/config"
	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/rbac"
	"milestone-tracker/pkg/util"
)

type userStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByID(ctx context.Context, id int) (*model.User, error)
}

type tokenStore interface {
	Save(ctx context.Context, t *model.RefreshToken) error
	Find(ctx context.Context, token string) (*model.RefreshToken, error)
	Delete(ctx context.Context, token string) error
}

type LoginResult struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Role         string    `json:"role"`
	UserID       int       `json:"userId"`
}

type AuthService struct {
	users  userStore
	tokens tokenStore
	jwt    config.JWTConfig
	now    func() time.Time
	logger *zap.Logger
}

func NewAuthService(users userStore, tokens tokenStore, jwtCfg config.JWTConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		jwt:    jwtCfg,
		now:    time.Now,
		logger: logger,
	}
}

// Register creates a new account with the given role.
func (s *AuthService) Register(ctx context.Context, username, password, role string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" || role == "" {
		return nil, fmt.Errorf("%w: username, password and role are required", ErrInvalidInput)
	}
	if !rbac.ValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &model.User{Username: username, PasswordHash: hash, Role: role}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("User registered",
		zap.Int("user_id", u.ID),
		zap.String("role", u.Role),
	)
	return u, nil
}

// Login checks credentials and issues an access/refresh token pair.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	u, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if u == nil || !util.CheckPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	access, exp, err := util.GenerateAccessToken(s.jwt.Secret, u.ID, u.Username, u.Role, s.jwt.AccessTTL)
	if err != nil {
		return nil, err
	}

	refresh, err := util.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Save(ctx, &model.RefreshToken{
		UserID:    u.ID,
		Token:     refresh,
		ExpiresAt: s.now().Add(s.jwt.RefreshTTL),
	}); err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("User logged in", zap.Int("user_id", u.ID))
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
		Role:         u.Role,
		UserID:       u.ID,
	}, nil
}

// Refresh issues a new access token. The role is re-read from the user row so
// role changes take effect on the next refresh.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, time.Time, error) {
	if refreshToken == "" {
		return "", time.Time{}, ErrInvalidRefreshToken
	}

	t, err := s.tokens.Find(ctx, refreshToken)
	if err != nil {
		return "", time.Time{}, err
	}
	if t == nil {
		return "", time.Time{}, ErrInvalidRefreshToken
	}
	if t.Expired(s.now()) {
		if err := s.tokens.Delete(ctx, refreshToken); err != nil {
			s.logger.Warn("Failed to delete expired refresh token", zap.Error(err))
		}
		return "", time.Time{}, ErrInvalidRefreshToken
	}

	u, err := s.users.FindByID(ctx, t.UserID)
	if err != nil {
		return "", time.Time{}, err
	}
	if u == nil {
		return "", time.Time{}, ErrInvalidRefreshToken
	}

	return util.GenerateAccessToken(s.jwt.Secret, u.ID, u.Username, u.Role, s.jwt.AccessTTL)
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: refreshToken is required", ErrInvalidInput)
	}
	return s.tokens.Delete(ctx, refreshToken)
}

// Identify parses an access token into the caller's identity.
func (s *AuthService) Identify(accessToken string) (rbac.Identity, error) {
	claims, err := util.ParseAccessToken(s.jwt.Secret, accessToken)
	if err != nil {
		return rbac.Identity{}, err
	}
	return rbac.Identity{UserID: claims.UserID, Username: claims.Username, Role: claims.Role}, nil
}
