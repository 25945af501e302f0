package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/affixlabs/affix/attach"
)

// DefaultKey is the list jobs are pushed onto unless overridden.
const DefaultKey = "affix:jobs"

// Redis dispatches jobs onto a redis list. Workers consume the other
// end with Receive.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultKey
	}
	return &Redis{client: client, key: key}
}

// Dispatch pushes the job onto the head of the list.
func (q *Redis) Dispatch(ctx context.Context, job attach.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("dispatch: encode job: %w", err)
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Receive blocks until a job arrives or the context is cancelled.
// The pop timeout is short so a cancelled context is noticed promptly
// rather than parking a connection in BRPOP forever.
func (q *Redis) Receive(ctx context.Context) (attach.Job, error) {
	for {
		res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
		switch {
		case err == nil:
			var job attach.Job
			if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
				return attach.Job{}, fmt.Errorf("receive: decode job: %w", err)
			}
			return job, nil
		case errors.Is(err, redis.Nil):
			// nothing queued; pop again
		default:
			return attach.Job{}, err
		}
	}
}
