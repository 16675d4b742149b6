package ledger

import (
	"context"
	"time"
)

// DefaultQueryTimeout bounds every ledger query so a stalled connection
// cannot hang a request indefinitely.
const DefaultQueryTimeout = 5 * time.Second

// withQueryTimeout applies DefaultQueryTimeout unless the caller already set
// a deadline, following the teacher's storage.withQueryTimeout exactly.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
