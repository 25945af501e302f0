package attach

import "context"

// Background job operations.
const (
	OpPromote = "promote"
	OpDestroy = "destroy"
)

// A Job carries everything a worker needs to resume an attachment
// operation later: the record and attribute it belongs to and the
// snapshot captured at dispatch time. The worker rebuilds an attacher
// from the snapshot with no dirty tracking and picks up at promotion,
// or at deletion for destroy jobs. The snapshot doubles as the
// worker's compare-and-set expectation, which is how a job enqueued
// against state that later changed resolves to a clean conflict
// instead of overwriting the change.
type Job struct {
	Op        string   `json:"op"`
	Attacher  string   `json:"attacher_type"`
	Kind      string   `json:"record_type"`
	RecordID  string   `json:"record_id"`
	Attribute string   `json:"attribute"`
	Snapshot  Snapshot `json:"snapshot"`
}

// Record returns the host record the job addresses.
func (j Job) Record() Record {
	return Record{Kind: j.Kind, ID: j.RecordID}
}

// A Dispatcher hands jobs to background workers. Implementations must
// carry the payload faithfully; the snapshot inside is a compare-and-
// set expectation, not advisory data.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}
