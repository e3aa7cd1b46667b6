package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/entrysync/internal/client/client"
	"github.com/dmitrijs2005/entrysync/internal/client/config"
	"github.com/dmitrijs2005/entrysync/internal/client/database"
	"github.com/dmitrijs2005/entrysync/internal/client/realtime"
	"github.com/dmitrijs2005/entrysync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/client/services"
	"github.com/dmitrijs2005/entrysync/internal/client/session"
	"github.com/dmitrijs2005/entrysync/internal/client/store"
	"github.com/dmitrijs2005/entrysync/internal/client/syncer"
	"github.com/dmitrijs2005/entrysync/internal/logging"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

type App struct {
	config      *config.Config
	db          *sql.DB
	repos       repomanager.RepositoryManager
	transport   session.Transport
	authService services.AuthService
	log         logging.Logger

	account     *services.Account
	session     *session.Session
	stopSession context.CancelFunc
	sessionDone chan error

	modeMu sync.Mutex
	mode   Mode

	reader *bufio.Reader
	out    io.Writer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	log := logging.NewJSONLogger(os.Stderr, c.LogLevel)

	db, err := database.Open(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	repos := repomanager.NewSQLiteRepositoryManager()
	return &App{
		config:      c,
		db:          db,
		repos:       repos,
		transport:   apiClient,
		authService: services.NewAuthService(apiClient, db, repos),
		log:         log,
		reader:      bufio.NewReader(os.Stdin),
		out:         os.Stdout,
	}, nil
}

func (a *App) Mode() Mode {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.mode
}

func (a *App) setMode(mode Mode) {
	a.modeMu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.modeMu.Unlock()
	if changed {
		a.log.Info(context.Background(), "mode changed", "mode", mode)
	}
}

func (a *App) isLoggedIn() bool {
	return a.session != nil
}

// Run starts the REPL and blocks until the user exits.
func (a *App) Run(ctx context.Context) {
	defer func() {
		a.endSession()
		_ = a.authService.Close(ctx)
		_ = a.db.Close()
	}()

	fmt.Fprintln(a.out, "Welcome to entrysync (type 'help' for commands)")
	if a.config.Username != "" {
		if err := a.Login(ctx); err != nil {
			a.log.Warn(ctx, "auto login failed", "error", err)
		}
	}
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) getStatus() string {
	s := ""
	if a.account != nil {
		s = a.account.Username + " "
	}
	s += string(a.Mode())
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

func (a *App) workspaceID() string {
	if a.config.WorkspaceID != "" {
		return a.config.WorkspaceID
	}
	return a.account.UserID
}

// startSession opens the replica of the logged-in account and keeps it in
// sync in the background.
func (a *App) startSession(ctx context.Context) {
	opts := session.Options{
		Identity: store.Identity{
			UserID:      a.account.UserID,
			WorkspaceID: a.workspaceID(),
			NodeID:      a.account.DeviceID,
		},
		Sync: syncer.Config{
			PushInterval: a.config.PushInterval,
			PullInterval: a.config.PullInterval,
			BatchSize:    a.config.BatchSize,
			BackoffMin:   a.config.BackoffMin,
			BackoffMax:   a.config.BackoffMax,
		},
		MaxRetries: a.config.MaxRetries,
	}
	if a.config.RealtimeURL != "" {
		rt := realtime.DefaultSettings()
		rt.URL = a.config.RealtimeURL
		rt.DeviceID = a.account.DeviceID
		rt.BackoffMin, rt.BackoffMax = a.config.BackoffMin, a.config.BackoffMax
		opts.Realtime = rt
	}

	s := session.New(a.db, a.repos, a.transport, opts, a.log)
	s.Syncer.OnStateChange = func(st syncer.State) {
		switch st {
		case syncer.StateConnected:
			a.setMode(ModeOnline)
		case syncer.StateDisconnected:
			a.setMode(ModeOffline)
		}
	}
	s.Syncer.OnPermanentFailure = func(txID string, err error) {
		fmt.Fprintf(a.out, "transaction %s failed permanently, see 'failed'\n", txID)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	a.session, a.stopSession, a.sessionDone = s, cancel, done
}

func (a *App) endSession() {
	if a.session == nil {
		return
	}
	a.stopSession()
	if err := <-a.sessionDone; err != nil {
		a.log.Warn(context.Background(), "session stopped", "error", err)
	}
	a.session, a.stopSession, a.sessionDone = nil, nil, nil
}
