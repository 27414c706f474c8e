// Package media drives image assets through an object store: validation,
// rendition derivation, staged-to-permanent promotion, deletion, reordering
// and URL resolution.
//
// The object store has no multi-object transaction, so every multi-step
// operation tracks what it has committed and compensates on failure. Cleanup
// failures never replace the caller-facing result; they are logged and
// reported to the configured Observer.
package media

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dukerupert/hearth"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	defaultConcurrency = 4
	defaultRetries     = 3
	defaultRetryBase   = 100 * time.Millisecond
	cleanupTimeout     = 30 * time.Second
)

// Config holds the dependencies of a Pipeline.
type Config struct {
	Store    hearth.ObjectStore
	Policies map[hearth.OwnerKind]hearth.Policy
	Logger   *slog.Logger
	Observer Observer

	// NewID returns the unique id embedded in permanent keys.
	// Defaults to a random UUID.
	NewID func() string

	// Concurrency bounds rendition derivation running alongside uploads.
	Concurrency int

	// Quality is the JPEG quality of renditions.
	Quality int

	// Retries and RetryBase bound retries of idempotent store calls
	// (DeleteMany, Stat).
	Retries   uint64
	RetryBase time.Duration
}

// Pipeline is the media asset pipeline. It holds no mutable state between
// calls and is safe for concurrent use.
type Pipeline struct {
	store       hearth.ObjectStore
	policies    map[hearth.OwnerKind]hearth.Policy
	deriver     Deriver
	logger      *slog.Logger
	observer    Observer
	newID       func() string
	concurrency int
	retries     uint64
	retryBase   time.Duration
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:       cfg.Store,
		policies:    cfg.Policies,
		deriver:     Deriver{Quality: cfg.Quality},
		logger:      cfg.Logger,
		observer:    cfg.Observer,
		newID:       cfg.NewID,
		concurrency: cfg.Concurrency,
		retries:     cfg.Retries,
		retryBase:   cfg.RetryBase,
	}
	if p.policies == nil {
		p.policies = hearth.DefaultPolicies()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultConcurrency
	}
	if p.retries == 0 {
		p.retries = defaultRetries
	}
	if p.retryBase <= 0 {
		p.retryBase = defaultRetryBase
	}
	return p
}

// Policy returns the policy configured for kind.
func (p *Pipeline) Policy(kind hearth.OwnerKind) (hearth.Policy, error) {
	policy, ok := p.policies[kind]
	if !ok {
		return hearth.Policy{}, hearth.Invalid("unknown owner kind %q", kind)
	}
	return policy, nil
}

func (p *Pipeline) log(ctx context.Context) *slog.Logger {
	return hearth.LoggerFromContext(ctx, p.logger)
}

// retryIdempotent runs fn, retrying transient failures with exponential
// backoff. Only idempotent calls may go through here.
func (p *Pipeline) retryIdempotent(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(p.retries, retry.NewExponential(p.retryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if hearth.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (p *Pipeline) deleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return p.retryIdempotent(ctx, func(ctx context.Context) error {
		return p.store.DeleteMany(ctx, keys)
	})
}

// cleanupContext detaches from the caller's cancellation so compensating
// deletes still run after the caller gave up.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// storageError wraps err as a StorageError unless it already is one.
func storageError(op, key string, err error) error {
	var se *hearth.StorageError
	if errors.As(err, &se) {
		if se.Key == "" {
			se.Key = key
		}
		return se
	}
	return &hearth.StorageError{Op: op, Key: key, Transient: transient(err), Err: err}
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// committed tracks the keys written so far by one batch. Rendition writers
// run concurrently with the original writer, so access is serialized.
type committed struct {
	mu   sync.Mutex
	keys []string
}

func (c *committed) add(key string) {
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.mu.Unlock()
}

func (c *committed) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.keys...)
}
