package rate

import "errors"

var (
	// ErrRateLimited is returned once a key has used its window's budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
