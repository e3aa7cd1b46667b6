package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/entrysync/internal/client/client"
)

// Prompt indirections, replaced in tests.
var (
	getSimpleText = GetSimpleText
	getPassword   = GetPassword
	getMultiline  = GetMultiline
	getGrants     = GetGrants
)

func (a *App) credentials() (string, string, error) {
	userName := a.config.Username
	if userName == "" {
		var err error
		if userName, err = getSimpleText(a.reader, "Enter user name", a.out); err != nil {
			return "", "", err
		}
	}
	if a.config.Password != "" {
		return userName, a.config.Password, nil
	}
	password, err := getPassword(a.out)
	if err != nil {
		return "", "", err
	}
	return userName, string(password), nil
}

// Register prompts for credentials and creates a new account.
func (a *App) Register(ctx context.Context) error {
	userName, err := getSimpleText(a.reader, "Enter user name", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}

	if err := a.authService.Register(ctx, userName, string(password)); err != nil {
		fmt.Fprintf(a.out, "Registration failed: %v\n", err)
		return err
	}
	fmt.Fprintln(a.out, "Success!")
	return nil
}

// Login authenticates online and falls back to the cached account when the
// server is unavailable. A successful login opens the session.
func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		fmt.Fprintln(a.out, "Already logged in, use 'logout' first")
		return nil
	}
	userName, password, err := a.credentials()
	if err != nil {
		return err
	}

	mode := ModeOnline
	account, err := a.authService.OnlineLogin(ctx, userName, password)
	if errors.Is(err, client.ErrUnavailable) {
		a.log.Info(ctx, "server unavailable, trying offline login")
		mode = ModeOffline
		account, err = a.authService.OfflineLogin(ctx, userName, password)
	}
	if err != nil {
		a.setMode(ModeDisabled)
		fmt.Fprintf(a.out, "Login unsuccessful: %v\n", err)
		return err
	}

	a.account = account
	a.setMode(mode)
	a.startSession(ctx)
	fmt.Fprintf(a.out, "Logged in as %s (%s)\n", account.Username, mode)
	return nil
}

// Logout stops the session and wipes the cached account.
func (a *App) Logout(ctx context.Context) error {
	a.endSession()
	if err := a.authService.ClearOfflineData(ctx); err != nil {
		return err
	}
	a.account = nil
	a.setMode("")
	return nil
}
