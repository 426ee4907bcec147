package ports

import (
	"context"

	"github.com/alejandrodnm/kalshibot/internal/domain"
)

// Notifier presents cycle results to the operator. The console
// implementation prints compact lines or full tables.
type Notifier interface {
	// NotifySignals shows the signals evaluated this cycle.
	NotifySignals(ctx context.Context, signals []domain.Signal) error

	// NotifyCycle shows the end-of-cycle summary line.
	NotifyCycle(ctx context.Context, summary string) error
}
