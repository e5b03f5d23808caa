package auth

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenFleetCore/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator Permission = "operator"
	PermAdmin    Permission = "admin"
)

type user struct {
	id           uuid.UUID
	passwordHash string
	role         string
}

// AuthService authenticates the config-declared users of this
// installation. There is no user database: the fleet controller runs
// on a single operator box and accounts live in config.yaml.
type AuthService struct {
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	users          map[string]user
	logger         *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	users := make(map[string]user, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = user{
			id:           uuid.New(),
			passwordHash: u.PasswordHash,
			role:         strings.ToLower(u.Role),
		}
	}
	return &AuthService{
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		users:          users,
		logger:         logger,
	}
}

// LoginUser authenticates a user and returns an access token
func (a *AuthService) LoginUser(username, password, ipAddress string) (string, error) {
	u, ok := a.users[username]
	if !ok {
		a.logger.Warn("login failed: unknown user",
			zap.String("username", username),
			zap.String("ip", ipAddress))
		return "", fmt.Errorf("invalid credentials")
	}

	valid, err := a.passwordHasher.VerifyPassword(password, u.passwordHash)
	if err != nil || !valid {
		a.logger.Warn("login failed: invalid password",
			zap.String("username", username),
			zap.String("ip", ipAddress))
		return "", fmt.Errorf("invalid credentials")
	}

	token, err := a.jwtHandler.GenerateAccessToken(u.id, username, u.role)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	a.logger.Info("user logged in",
		zap.String("username", username),
		zap.String("ip", ipAddress))
	return token, nil
}

// ValidateToken validates an access token and returns the permissions
// attached to the user's role.
func (a *AuthService) ValidateToken(tokenString string) ([]Permission, *JWTClaims, error) {
	claims, err := a.jwtHandler.ValidateAccessToken(tokenString)
	if err != nil {
		return nil, nil, err
	}
	return a.roleToPermissions(claims.Role), claims, nil
}

func (a *AuthService) roleToPermissions(role string) []Permission {
	switch strings.ToLower(role) {
	case "admin":
		return []Permission{PermOperator, PermAdmin}
	case "operator":
		return []Permission{PermOperator}
	default:
		return nil
	}
}
