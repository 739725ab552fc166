// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package retry

import (
	"context"

	"grimm.is/sentinel/internal/breaker"
)

// WithBreaker gates every attempt of op through b. Once b opens, attempts
// fail with breaker.ErrCircuitOpen, which the package predicates treat as
// permanent, so the retry loop stops instead of hammering a dead dependency.
func WithBreaker(b *breaker.Breaker, op Operation) Operation {
	return func(ctx context.Context) error {
		return b.Execute(func() error { return op(ctx) })
	}
}
