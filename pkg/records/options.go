package records

import "log/slog"

type options struct {
	caseInsensitive bool
	fallback        bool
	log             *slog.Logger
}

func defaultOptions() options {
	return options{log: slog.New(slog.DiscardHandler)}
}

// Option configures a [Directory].
type Option func(*options)

// CaseInsensitive makes Fetch and Exists retry a miss with a case-folded
// scan of the keys. The scan is linear in the bucket size.
func CaseInsensitive(on bool) Option {
	return func(o *options) { o.caseInsensitive = on }
}

// FallbackOnCacheError makes a Directory query its [Source] directly when the
// cache cannot be opened or rebuilt. Off by default: cache failures are
// returned to the caller.
func FallbackOnCacheError(on bool) Option {
	return func(o *options) { o.fallback = on }
}

// WithLogger sets the logger used to report cache fallbacks.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}
