package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/itemsadmin/internal/apperrors"
	"github.com/nkiryanov/itemsadmin/internal/logger"
	"github.com/nkiryanov/itemsadmin/internal/service/backend"
	"github.com/nkiryanov/itemsadmin/internal/session"
)

const (
	defaultRetryAttempts = 3
	defaultRetryDelay    = 200 * time.Millisecond
)

// Authenticator is the part of the auth manager the gateway consults before every call
type Authenticator interface {
	IsTokenExpired() bool
	Refresh(ctx context.Context) (session.State, error)
	AuthHeader() http.Header
}

// Redirector sends the user back to the login flow
type Redirector interface {
	RedirectToLogin(cause error)
}

type RedirectFunc func(cause error)

func (f RedirectFunc) RedirectToLogin(cause error) { f(cause) }

// Gateway config with sensible defaults
type Config struct {
	// Backend base url, like http://localhost:8000/api/v1
	// Required to be set
	BaseURL string

	// If not set than default client is used
	HTTPClient *http.Client

	// Total attempts for GET requests failed on transport level
	// If not set than default is used
	RetryAttempts uint
	RetryDelay    time.Duration

	// Called when the user must login again, no-op if not set
	Redirector Redirector

	Logger logger.Logger
}

// Gateway is the single entry point for authenticated calls
type Gateway struct {
	baseURL       string
	client        *http.Client
	auth          Authenticator
	redirector    Redirector
	retryAttempts uint
	retryDelay    time.Duration
	logger        logger.Logger

	// Concurrent calls with an expired token share one refresh
	refreshes singleflight.Group
}

func New(cfg Config, auth Authenticator) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	if auth == nil {
		return nil, errors.New("authenticator must not be nil")
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Redirector == nil {
		cfg.Redirector = RedirectFunc(func(error) {})
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &Gateway{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		client:        cfg.HTTPClient,
		auth:          auth,
		redirector:    cfg.Redirector,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        cfg.Logger,
	}, nil
}

type requestOptions struct {
	header http.Header
}

type Option func(*requestOptions)

// WithHeader overrides any header the gateway would send
func WithHeader(key string, value string) Option {
	return func(o *requestOptions) {
		o.header.Set(key, value)
	}
}

// Request performs authenticated call and decodes JSON response into out (if not nil).
//
// Expired token is refreshed before the call; if refresh fails the call is not issued
// and ErrAuthExpired is returned. Server 401 gives ErrAuthRejected without retrying.
// Both redirect to login. Other non-2xx statuses give *APIError.
func (g *Gateway) Request(ctx context.Context, method string, endpoint string, body any, out any, opts ...Option) error {
	o := requestOptions{header: make(http.Header)}
	for _, opt := range opts {
		opt(&o)
	}

	if seen := g.auth.AuthHeader().Get("Authorization"); g.auth.IsTokenExpired() {
		if err := g.refresh(ctx, seen); err != nil {
			failure := apperrors.NewFailure(apperrors.ErrAuthExpired, "", err)
			g.logger.Info("Token expired and refresh failed", "endpoint", endpoint, "error", err)
			g.redirector.RedirectToLogin(failure)
			return failure
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	header := g.auth.AuthHeader()
	header.Set(backend.RequestIDHeader, uuid.NewString())
	for key, values := range o.header {
		header[key] = values
	}

	attempts := uint(1)
	if method == http.MethodGet {
		attempts = g.retryAttempts
	}

	var respBody []byte
	err := retry.Do(
		func() error {
			var reqBody io.Reader
			if payload != nil {
				reqBody = bytes.NewReader(payload)
			}

			req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, reqBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
			}
			req.Header = header.Clone()

			respBody, err = backend.Send(g.client, req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(g.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isNetworkError),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Debug("Retrying request", "endpoint", endpoint, "attempt", n+1, "error", err)
		}),
	)

	var apiErr *apperrors.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
		failure := apperrors.NewFailure(apperrors.ErrAuthRejected, "", err)
		g.logger.Info("Request rejected by server", "endpoint", endpoint)
		g.redirector.RedirectToLogin(failure)
		return failure
	case err != nil:
		return err
	}

	return backend.Decode(respBody, out)
}

// Refreshes the token once for all concurrent callers.
// Nothing is done when the seen credential was already replaced by another refresh.
func (g *Gateway) refresh(ctx context.Context, seen string) error {
	_, err, shared := g.refreshes.Do("refresh", func() (any, error) {
		if g.auth.AuthHeader().Get("Authorization") != seen {
			return nil, nil
		}
		_, err := g.auth.Refresh(ctx)
		return nil, err
	})
	if shared {
		g.logger.Debug("Token refresh shared with concurrent request")
	}
	return err
}

func isNetworkError(err error) bool {
	var netErr *apperrors.NetworkError
	return errors.As(err, &netErr)
}
