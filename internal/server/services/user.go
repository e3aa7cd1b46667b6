// Package services contains server-side business logic. This file implements
// UserService, which registers accounts and issues access tokens.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/common"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/dmitrijs2005/entrysync/internal/server/auth"
	"github.com/dmitrijs2005/entrysync/internal/server/config"
	"github.com/dmitrijs2005/entrysync/internal/server/models"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Session is an issued access token.
type Session struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

// UserService provides authentication-related operations.
type UserService struct {
	db                          dbx.DBTX
	repomanager                 repomanager.RepositoryManager
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
	hashCost                    int
	// dummyHash is compared against when the user does not exist so that
	// unknown and known usernames take the same time.
	dummyHash []byte
}

// NewUserService constructs a UserService using repositories and server config.
func NewUserService(db dbx.DBTX, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	s := &UserService{
		db:                          db,
		repomanager:                 m,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenValidityDuration,
		hashCost:                    bcrypt.DefaultCost,
	}
	s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("entrysync"), s.hashCost)
	return s
}

// Register creates a user and returns a token not bound to any device.
func (s *UserService) Register(ctx context.Context, username, password string) (*Session, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", common.ErrInvalidRequest)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{ID: uuid.NewString(), UserName: username, PasswordHash: string(hash)}
	u, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return s.issue(u.ID, "")
}

// Login verifies the password and returns a token bound to deviceID.
func (s *UserService) Login(ctx context.Context, username, password, deviceID string) (*Session, error) {
	user, err := s.repomanager.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, common.ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, common.ErrUnauthorized
	}
	return s.issue(user.ID, deviceID)
}

func (s *UserService) issue(userID, deviceID string) (*Session, error) {
	token, expiresAt, err := auth.GenerateToken(userID, deviceID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("%w: sign token: %v", common.ErrInternal, err)
	}
	return &Session{UserID: userID, AccessToken: token, ExpiresAt: expiresAt}, nil
}
