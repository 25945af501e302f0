// Package workers runs dispatched attachment jobs in the background.
//
// The database processors poll the request tables, promote or destroy
// the attachment a request describes, and delete the row when the
// request is finished. A conflict or missing record counts as finished:
// it means the attachment changed while the job sat queued, the
// attacher has already cleaned up the job's own uploads, and retrying
// could only conflict again.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/affixlabs/affix/attach"
	"github.com/affixlabs/affix/internal/metrics"
	"gorm.io/gorm"
)

// Env carries the dependencies shared by every worker.
type Env struct {
	// DB holds the request tables. Unused by the redis consumer.
	DB *gorm.DB
	// Registry resolves the storages jobs move objects between.
	Registry *attach.Registry
	// Persister owns the attachment column jobs compare-and-set.
	Persister attach.Persister
	Logger    *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

func (e *Env) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// jobTimeout bounds a single job run; promotion copies object bytes.
const jobTimeout = time.Minute

// runJob rebuilds the job's attacher and performs its operation.
// A nil return means the request is finished, including the superseded
// case; an error means the job should be attempted again later.
func runJob(ctx context.Context, env *Env, log *slog.Logger, job attach.Job) error {
	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	a := attach.FromJob(env.Registry, job)

	var err error
	switch job.Op {
	case attach.OpPromote:
		err = a.Finalize(ctx, env.Persister)
	case attach.OpDestroy:
		err = a.Destroy(ctx)
	default:
		return fmt.Errorf("unknown operation %q", job.Op)
	}

	switch {
	case err == nil:
		log.Info("processed", "op", job.Op, "record", job.Record(), "attribute", job.Attribute, "took", time.Since(start))
		env.Metrics.RecordJob(job.Op, "ok", time.Since(start))
		return nil
	case errors.Is(err, attach.ErrConflict), errors.Is(err, attach.ErrRecordMissing):
		log.Info("superseded", "op", job.Op, "record", job.Record(), "reason", err)
		env.Metrics.RecordJob(job.Op, "superseded", time.Since(start))
		return nil
	default:
		env.Metrics.RecordJob(job.Op, "error", time.Since(start))
		return err
	}
}
