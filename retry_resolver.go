package hrefresolver

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/mccutchen/hrefresolver/safedialer"
)

const defaultRetryInterval = 200 * time.Millisecond

// RetryResolver retries transient failures of the wrapped resolver with
// exponential backoff. Resolvers do not retry on their own; wrap one in a
// RetryResolver to opt in.
type RetryResolver struct {
	resolver        Interface
	maxRetries      uint64
	initialInterval time.Duration
	logger          zerolog.Logger
}

var _ Interface = &RetryResolver{} // RetryResolver implements Interface

// NewRetryResolver creates a RetryResolver that makes at most maxRetries
// additional attempts, waiting initialInterval (growing exponentially)
// between them. An initialInterval <= 0 means 200ms.
func NewRetryResolver(resolver Interface, maxRetries uint64, initialInterval time.Duration, logger zerolog.Logger) *RetryResolver {
	if initialInterval <= 0 {
		initialInterval = defaultRetryInterval
	}
	return &RetryResolver{
		resolver:        resolver,
		maxRetries:      maxRetries,
		initialInterval: initialInterval,
		logger:          logger,
	}
}

// IsTarget delegates to the wrapped resolver.
func (r *RetryResolver) IsTarget(href string) bool {
	return r.resolver.IsTarget(href)
}

// Resolve resolves href, retrying network errors, 5xx and 429 responses.
func (r *RetryResolver) Resolve(ctx context.Context, href string) (Resource, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval

	var res Resource
	op := func() error {
		var err error
		res, err = r.resolver.Resolve(ctx, href)
		if err != nil && !isRetryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug().Err(err).Str("url", href).Dur("wait", wait).Msg("retrying fetch")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx), notify); err != nil {
		return Resource{}, err
	}
	return res, nil
}

func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrNotTarget) ||
		errors.Is(err, ErrBodyTooLarge) ||
		errors.Is(err, ErrTooManyRedirects) ||
		errors.Is(err, safedialer.ErrUnsafe) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}
