// Package services contains application services of the entrysync client.
// This file defines the authentication service: online and offline login,
// registration, liveness check and housekeeping of the cached credentials.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/client/client"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/dbx"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Metadata keys of the cached account.
const (
	keyUsername     = "username"
	keyUserID       = "user_id"
	keyPasswordHash = "password_hash"
)

// ErrLocalDataNotAvailable means no account was cached by an online login.
var ErrLocalDataNotAvailable = errors.New("local data unavailable")

// Account identifies the logged-in user on this device.
type Account struct {
	UserID   string
	Username string
	DeviceID string
}

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - OnlineLogin: authenticate against the server and cache the account.
//   - OfflineLogin: verify credentials against the cached account and keep
//     them for a login once the server is reachable.
//   - Register: create a new user on the server.
//   - Ping: check server liveness.
//   - Close: release underlying client resources.
//   - ClearOfflineData: wipe the cached account.
type AuthService interface {
	OfflineLogin(ctx context.Context, username, password string) (*Account, error)
	OnlineLogin(ctx context.Context, username, password string) (*Account, error)
	Register(ctx context.Context, username, password string) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	ClearOfflineData(ctx context.Context) error
}

// authService is the concrete AuthService backed by a remote Client and the
// local metadata table.
type authService struct {
	client client.Client
	db     *sql.DB
	repos  repomanager.RepositoryManager
}

func NewAuthService(client client.Client, db *sql.DB, repos repomanager.RepositoryManager) AuthService {
	return &authService{client: client, db: db, repos: repos}
}

func (a *authService) getMetadataRepo() metadata.Repository {
	return a.repos.Metadata(a.db)
}

// DeviceID returns the id of this replica, creating it on first use.
func DeviceID(ctx context.Context, repo metadata.Repository) (string, error) {
	v, err := repo.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if len(v) > 0 {
		return string(v), nil
	}
	id := uuid.NewString()
	if err := repo.Set(ctx, metadata.KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// OfflineLogin checks the password against the hash cached by the last
// online login of the same user.
func (a *authService) OfflineLogin(ctx context.Context, username, password string) (*Account, error) {
	repo := a.getMetadataRepo()

	savedUsername, err := repo.Get(ctx, keyUsername)
	if err != nil {
		return nil, err
	}
	if savedUsername == nil {
		return nil, ErrLocalDataNotAvailable
	}
	if string(savedUsername) != username {
		return nil, client.ErrUnauthorized
	}

	hash, err := repo.Get(ctx, keyPasswordHash)
	if err != nil {
		return nil, err
	}
	userID, err := repo.Get(ctx, keyUserID)
	if err != nil {
		return nil, err
	}
	if hash == nil || userID == nil {
		return nil, ErrLocalDataNotAvailable
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return nil, client.ErrUnauthorized
	}

	deviceID, err := DeviceID(ctx, repo)
	if err != nil {
		return nil, err
	}
	a.client.Remember(username, password, deviceID)
	return &Account{UserID: string(userID), Username: username, DeviceID: deviceID}, nil
}

// OnlineLogin authenticates against the server and caches the account for
// offline use.
func (a *authService) OnlineLogin(ctx context.Context, username, password string) (*Account, error) {
	deviceID, err := DeviceID(ctx, a.getMetadataRepo())
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Login(ctx, username, password, deviceID)
	if err != nil {
		return nil, fmt.Errorf("login error: %w", err)
	}

	if err := a.saveOfflineData(ctx, username, resp.UserID, password); err != nil {
		return nil, fmt.Errorf("offline data saving error: %w", err)
	}
	return &Account{UserID: resp.UserID, Username: username, DeviceID: deviceID}, nil
}

func (a *authService) saveOfflineData(ctx context.Context, username, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.repos.Metadata(tx)
		if err := repo.Set(ctx, keyUsername, []byte(username)); err != nil {
			return err
		}
		if err := repo.Set(ctx, keyUserID, []byte(userID)); err != nil {
			return err
		}
		return repo.Set(ctx, keyPasswordHash, hash)
	})
}

// Register creates a new account on the server.
func (a *authService) Register(ctx context.Context, username, password string) error {
	return a.client.Register(ctx, username, password)
}

// Ping proxies a liveness check to the underlying client.
func (a *authService) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

// Close releases resources held by the underlying client.
func (a *authService) Close(ctx context.Context) error {
	return a.client.Close()
}

// ClearOfflineData wipes the cached account (e.g., on logout). The device id
// is kept.
func (a *authService) ClearOfflineData(ctx context.Context) error {
	return dbx.WithTx(ctx, a.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := a.repos.Metadata(tx)
		for _, k := range []string{keyUsername, keyUserID, keyPasswordHash} {
			if err := repo.Delete(ctx, k); err != nil {
				return err
			}
		}
		return nil
	})
}
