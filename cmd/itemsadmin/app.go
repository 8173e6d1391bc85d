package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/afero"

	"github.com/nkiryanov/itemsadmin/internal/db"
	"github.com/nkiryanov/itemsadmin/internal/logger"
	"github.com/nkiryanov/itemsadmin/internal/repository"
	"github.com/nkiryanov/itemsadmin/internal/repository/file"
	"github.com/nkiryanov/itemsadmin/internal/repository/memory"
	"github.com/nkiryanov/itemsadmin/internal/repository/postgres"
	"github.com/nkiryanov/itemsadmin/internal/service/auth"
	"github.com/nkiryanov/itemsadmin/internal/service/backend"
	"github.com/nkiryanov/itemsadmin/internal/service/gateway"
	"github.com/nkiryanov/itemsadmin/internal/service/items"
	"github.com/nkiryanov/itemsadmin/internal/session"
)

type App struct {
	Logger logger.Logger
	Store  *session.Store
	Auth   *auth.Manager
	Items  *items.Manager

	closers []func()
}

type appDeps struct {
	// Filesystem for the file store
	fs afero.Fs

	// Repo to use instead of the configured one
	repo repository.StateRepo

	// Where the login hint is printed
	errOut io.Writer
}

func NewApp(ctx context.Context, c *Config, deps appDeps) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	app := &App{}

	// Initialize logger
	logOut := deps.errOut
	if c.LogFile != "" {
		w := logger.NewFileWriter(c.LogFile)
		app.closers = append(app.closers, func() { _ = w.Close() })
		logOut = w
	}
	l, err := logger.NewWithWriter(logOut, c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}
	app.Logger = l

	// Initialize session store
	repo := deps.repo
	if repo == nil {
		repo, err = app.newStateRepo(ctx, c, deps.fs)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	store, err := session.New(session.Config{Key: c.StorageKey, SecretKey: c.SecretKey}, repo)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating session store: %w", err)
	}
	app.Store = store

	// Initialize services
	httpClient := backend.NewHTTPClient(c.HTTPTimeout, l)

	app.Auth, err = auth.New(auth.Config{Logger: l}, backend.NewClient(c.APIURL, httpClient, l), store)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating auth manager: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		BaseURL:       c.APIURL,
		HTTPClient:    httpClient,
		RetryAttempts: c.RetryAttempts,
		Redirector:    &loginHint{out: deps.errOut},
		Logger:        l,
	}, app.Auth)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating gateway: %w", err)
	}

	app.Items, err = items.New(items.Config{Logger: l}, gw, store)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating items manager: %w", err)
	}

	return app, nil
}

func (a *App) newStateRepo(ctx context.Context, c *Config, fs afero.Fs) (repository.StateRepo, error) {
	switch c.Store {
	case StorePostgres:
		// Connect to the database and run migrations
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		return &postgres.StateRepo{DB: pool}, nil
	case StoreMemory:
		return memory.NewStateRepo(), nil
	default:
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return file.NewStateRepo(fs, c.StateDir), nil
	}
}

// Close releases app resources in reverse order
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Prints hint to login again, the CLI equivalent of redirecting to the login page.
// Parallel requests may fail together, the hint is printed once.
type loginHint struct {
	mu    sync.Mutex
	out   io.Writer
	shown bool
}

func (h *loginHint) RedirectToLogin(cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.out == nil || h.shown {
		return
	}
	h.shown = true
	_, _ = fmt.Fprintf(h.out, "%v\nRun 'itemsadmin login' to sign in again.\n", cause)
}
