package auth

import (
	"context"
	stderrors "errors"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Request identifies the session that needs a token.
type Request struct {
	Path string
	User string
	URL  string
}

// Token is an access token for one realm path on the server.
type Token struct {
	ExpiresAt   time.Time
	AccessToken string
	ServerPath  string
}

// Refresher obtains access tokens.
type Refresher interface {
	Refresh(ctx context.Context, req Request) (Token, error)
}

// Func adapts a function to Refresher.
type Func func(ctx context.Context, req Request) (Token, error)

func (f Func) Refresh(ctx context.Context, req Request) (Token, error) { return f(ctx, req) }

// ErrNoToken is returned by Static for users it has no token for.
var ErrNoToken = stderrors.New("no access token for user")

// Static serves fixed tokens keyed by user.
type Static map[string]string

func (s Static) Refresh(_ context.Context, req Request) (Token, error) {
	tok, ok := s[req.User]
	if !ok {
		return Token{}, ErrNoToken
	}
	return Token{AccessToken: tok, ServerPath: serverPath(req.URL)}, nil
}

// RetryOptions configures Retrying.
type RetryOptions struct {
	Logger          *zap.Logger
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxTries        uint
}

// Retrying retries a Refresher with exponential backoff. Errors wrapped with
// Permanent stop the retries.
type Retrying struct {
	next Refresher
	opts RetryOptions
}

// NewRetrying wraps next.
func NewRetrying(next Refresher, opts RetryOptions) *Retrying {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 5
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Retrying{next: next, opts: opts}
}

func (r *Retrying) Refresh(ctx context.Context, req Request) (Token, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxInterval = r.opts.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (Token, error) {
		attempt++
		tok, err := r.next.Refresh(ctx, req)
		if err != nil {
			r.opts.Logger.Debug("access token refresh failed",
				zap.String("path", req.Path),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if stderrors.Is(err, ErrNoToken) {
				return Token{}, backoff.Permanent(err)
			}
			return Token{}, err
		}
		return tok, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.opts.MaxTries),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// serverPath returns the path component of a realm URL.
func serverPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
