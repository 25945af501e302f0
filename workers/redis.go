package workers

import (
	"context"

	"github.com/affixlabs/affix/queue"
)

// NewRedisConsumer returns a worker that runs jobs straight off the
// redis queue. Unlike the database processors there is no attempts
// bookkeeping behind it: a job that fails hard is logged and dropped.
func NewRedisConsumer(env *Env, q *queue.Redis) func(context.Context) error {
	return func(ctx context.Context) error {
		log := env.log().With("worker", "redis")
		log.Info("started")
		defer log.Info("stopped")

		for {
			job, err := q.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := runJob(ctx, env, log, job); err != nil {
				log.Error("job failed", "op", job.Op, "record", job.Record(), "err", err)
			}
		}
	}
}
