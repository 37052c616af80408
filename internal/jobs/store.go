// Package jobs runs extractions in the background and tracks their
// lifecycle: pending, processing, then completed or failed.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrJobNotReady  = errors.New("job not finished")
	ErrJobFailed    = errors.New("job failed")
	ErrQueueFull    = errors.New("job queue full")
	ErrShuttingDown = errors.New("job manager shutting down")
)

// Store persists jobs. Get returns ErrJobNotFound for unknown IDs.
// Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id string) (*types.Job, error)
	Update(ctx context.Context, job *types.Job) error
	Delete(ctx context.Context, id string) error
	// ListExpired returns IDs of jobs created before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]string, error)
	Close() error
}
