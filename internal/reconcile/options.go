package reconcile

import (
	"log/slog"
	"time"

	"github.com/roach88/porta/internal/profile"
)

type options struct {
	logger   *slog.Logger
	ledger   Ledger
	debounce time.Duration
	defaults profile.Defaults
}

// Option configures ForUser.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLedger persists pending pushes and the last adopted remote timestamp.
func WithLedger(l Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithProfileDefaults seeds the profile synthesized when none exists.
func WithProfileDefaults(d profile.Defaults) Option {
	return func(o *options) { o.defaults = d }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
