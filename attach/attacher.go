package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// An Attacher moves one record attribute's file through its lifecycle:
// cache upload on assignment, promotion to permanent storage,
// persistence under a compare-and-set, and deletion of everything the
// new state replaced.
//
// An Attacher is built per operation and is not safe for concurrent
// use. Safety across concurrent operations on the same record comes
// from the Persister's compare-and-set, not from any lock held here:
// every attacher remembers the snapshot it started from and only
// persists if the record still holds it.
type Attacher struct {
	registry   *Registry
	cache      string
	store      string
	name       string
	namer      Namer
	validators []Validator

	record    Record
	attribute string
	context   map[string]any

	// source is what the live column held when this attacher started;
	// it is the expectation every compare-and-set is made against.
	source  Snapshot
	current Snapshot

	// previousFile is the stored file displaced during this session,
	// deleted once its replacement is confirmed persisted.
	// pendingDelete collects displaced cache uploads and removed
	// derivatives, deleted at the same point.
	previousFile  *UploadedFile
	pendingDelete []*UploadedFile

	changed bool
	errs    []error
}

// Option configures an Attacher.
type Option func(*Attacher)

// WithCache names the storage receiving fresh uploads. Default "cache".
func WithCache(key string) Option {
	return func(a *Attacher) { a.cache = key }
}

// WithStore names the storage promoted files move to. Default "store".
func WithStore(key string) Option {
	return func(a *Attacher) { a.store = key }
}

// WithName sets the attacher configuration name carried in job
// payloads, letting workers route jobs from differently configured
// attachers. Default "attachment".
func WithName(name string) Option {
	return func(a *Attacher) { a.name = name }
}

// WithNamer sets the upload location strategy.
func WithNamer(n Namer) Option {
	return func(a *Attacher) { a.namer = n }
}

// WithValidators appends validators run against every assigned file.
func WithValidators(vs ...Validator) Option {
	return func(a *Attacher) { a.validators = append(a.validators, vs...) }
}

// WithRecord ties the attacher to its host record and attribute, and
// exposes the record identity to namers and processors through the
// context.
func WithRecord(rec Record, attribute string) Option {
	return func(a *Attacher) {
		a.record = rec
		a.attribute = attribute
		a.context["record_kind"] = rec.Kind
		a.context["record_id"] = rec.ID
	}
}

// WithContext adds a value namers and processors can read.
func WithContext(key string, value any) Option {
	return func(a *Attacher) { a.context[key] = value }
}

// New returns an empty Attacher backed by the given storage registry.
func New(registry *Registry, opts ...Option) *Attacher {
	a := &Attacher{
		registry:  registry,
		cache:     "cache",
		store:     "store",
		name:      "attachment",
		namer:     RandomNamer(),
		attribute: "file",
		context:   make(map[string]any),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromJob rebuilds the attacher a job was dispatched from: same record,
// attribute and snapshot, no dirty state.
func FromJob(registry *Registry, job Job, opts ...Option) *Attacher {
	opts = append([]Option{WithRecord(job.Record(), job.Attribute), WithName(job.Attacher)}, opts...)
	a := New(registry, opts...)
	a.Load(job.Snapshot)
	return a
}

// File returns the currently attached file, nil when empty.
func (a *Attacher) File() *UploadedFile { return a.current.File }

// Derivatives returns the current derivative set.
func (a *Attacher) Derivatives() *Derivatives {
	if a.current.Derivatives == nil {
		a.current.Derivatives = NewDerivatives()
	}
	return a.current.Derivatives
}

// Snapshot returns a copy of the in-memory attachment state.
func (a *Attacher) Snapshot() Snapshot { return a.current.Clone() }

// Record returns the host record this attacher operates on behalf of.
func (a *Attacher) Record() Record { return a.record }

// Attribute returns the record attribute the attachment persists into.
func (a *Attacher) Attribute() string { return a.attribute }

// Context returns the attacher's pass-through context.
func (a *Attacher) Context() map[string]any { return a.context }

// Changed reports whether the attachment has been modified since it was
// loaded.
func (a *Attacher) Changed() bool { return a.changed }

// Attached reports whether a file is present.
func (a *Attacher) Attached() bool { return a.current.File != nil }

// Cached reports whether the current file sits in cache storage,
// awaiting promotion.
func (a *Attacher) Cached() bool {
	return a.current.File != nil && a.current.File.Storage == a.cache
}

// Stored reports whether the current file has left cache storage.
func (a *Attacher) Stored() bool {
	return a.current.File != nil && a.current.File.Storage != a.cache
}

// Errors returns the validation failures from the last assignment.
func (a *Attacher) Errors() []error { return a.errs }

// Valid reports whether the last assignment passed validation.
func (a *Attacher) Valid() bool { return len(a.errs) == 0 }

// Load primes the attacher with the snapshot currently persisted for
// its record. Later compare-and-sets expect the live column to still
// hold it. Dirty state and validation errors reset.
func (a *Attacher) Load(snap Snapshot) {
	a.current = snap.Clone()
	a.source = snap.Clone()
	a.previousFile = nil
	a.pendingDelete = nil
	a.changed = false
	a.errs = nil
}

// LoadFrom reads the record's persisted snapshot through p and loads
// it.
func (a *Attacher) LoadFrom(ctx context.Context, p Persister) error {
	snap, err := p.Load(ctx, a.record, a.attribute)
	if err != nil {
		return err
	}
	a.Load(snap)
	return nil
}

// Set attaches ref with no dirty tracking, validation or replacement
// bookkeeping, as if it had just been loaded. It is the reconstruction
// path for attachers built from persisted data.
func (a *Attacher) Set(ref *UploadedFile) {
	a.Load(Snapshot{File: ref, Derivatives: a.current.Derivatives})
}

// Assign uploads content into cache storage and attaches the result,
// displacing whatever was attached before. Validators run against the
// new file; their failures collect on the attacher (see Errors) and
// leave the cached file attached so it can be redisplayed. The error
// return reports upload failure only.
func (a *Attacher) Assign(ctx context.Context, content io.Reader, meta Metadata) (*UploadedFile, error) {
	if meta == nil {
		meta = Metadata{}
	}
	f, err := a.upload(ctx, content, a.cache, meta, "")
	if err != nil {
		return nil, err
	}
	a.Change(f)
	return f, nil
}

// Change attaches ref as-is, with the same displacement bookkeeping and
// validation as Assign but no upload. Use it for files that already
// live in a storage, such as direct uploads. Change(nil) detaches.
func (a *Attacher) Change(ref *UploadedFile) {
	a.attach(ref)
	a.errs = nil
	if ref != nil {
		for _, v := range a.validators {
			if err := v.Validate(ref); err != nil {
				a.errs = append(a.errs, err)
			}
		}
	}
}

// attach replaces the current file with ref, queueing the displaced
// attachment for deletion: a displaced cache upload can go as soon as
// the change is persisted, while a displaced stored file waits as
// previousFile for the same moment. Derivatives always belong to the
// file they were derived from, so they are displaced with it.
func (a *Attacher) attach(ref *UploadedFile) {
	if old := a.current.File; old != nil && !old.Equal(ref) {
		if old.Storage == a.cache {
			a.pendingDelete = append(a.pendingDelete, old)
		} else if a.previousFile == nil {
			a.previousFile = old
		}
		a.current.Derivatives.Each(func(_ string, f *UploadedFile) error {
			a.pendingDelete = append(a.pendingDelete, f)
			return nil
		})
	}
	a.current.File = ref
	a.current.Derivatives = NewDerivatives()
	a.changed = true
}

// AddDerivative uploads content as the named derivative of the current
// file, into the storage tier the file occupies. Replacing an existing
// name queues the old object for deletion once the change persists.
func (a *Attacher) AddDerivative(ctx context.Context, name string, content io.Reader, meta Metadata) (*UploadedFile, error) {
	if a.current.File == nil {
		return nil, ErrNoFile
	}
	if meta == nil {
		meta = Metadata{}
	}
	f, err := a.upload(ctx, content, a.current.File.Storage, meta, name)
	if err != nil {
		return nil, err
	}
	if old, ok := a.Derivatives().Get(name); ok {
		a.pendingDelete = append(a.pendingDelete, old)
	}
	a.Derivatives().Add(name, f)
	a.changed = true
	return f, nil
}

// RemoveDerivative drops the named derivative, queueing its object for
// deletion once the removal persists. It returns the dropped file, nil
// for unknown names.
func (a *Attacher) RemoveDerivative(name string) *UploadedFile {
	old := a.Derivatives().Remove(name)
	if old != nil {
		a.pendingDelete = append(a.pendingDelete, old)
		a.changed = true
	}
	return old
}

// CreateDerivatives opens the current file, runs p over its content,
// and attaches every derived file it returns.
func (a *Attacher) CreateDerivatives(ctx context.Context, p Processor) error {
	f := a.current.File
	if f == nil {
		return ErrNoFile
	}
	rc, err := f.Open(ctx, a.registry)
	if err != nil {
		return err
	}
	defer rc.Close()
	derived, err := p.Process(ctx, f, rc)
	if err != nil {
		return err
	}
	for _, d := range derived {
		if _, err := a.AddDerivative(ctx, d.Name, d.Content, d.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// Promote returns a copy of the current snapshot with every cache-tier
// file re-uploaded to the store tier. It mutates neither the attacher
// nor any record, so callers may retry it freely. Files already
// outside the cache tier pass through untouched, which is what makes
// promoting an already promoted snapshot a no-op.
func (a *Attacher) Promote(ctx context.Context) (Snapshot, error) {
	out := Snapshot{Derivatives: NewDerivatives()}
	if f := a.current.File; f != nil {
		nf := f
		if f.Storage == a.cache {
			var err error
			nf, err = f.UploadTo(ctx, a.registry, a.store, a.location(f.Metadata, ""))
			if err != nil {
				return Snapshot{}, err
			}
		}
		out.File = nf
	}
	err := a.current.Derivatives.Each(func(name string, f *UploadedFile) error {
		nf := f
		if f.Storage == a.cache {
			var uerr error
			nf, uerr = f.UploadTo(ctx, a.registry, a.store, a.location(f.Metadata, name))
			if uerr != nil {
				return uerr
			}
		}
		out.Derivatives.Add(name, nf)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return out, nil
}

// promotionDiff compares the current snapshot against its promotion:
// sources are the cache objects the promotion copied out of, created
// the store objects it copied them into.
func (a *Attacher) promotionDiff(promoted Snapshot) (sources, created []*UploadedFile) {
	for _, f := range a.current.files() {
		if f.Storage == a.cache && !promoted.Contains(f) {
			sources = append(sources, f)
		}
	}
	for _, f := range promoted.files() {
		if !a.current.Contains(f) {
			created = append(created, f)
		}
	}
	return sources, created
}

// Persist writes the current snapshot through p as-is, without
// promoting. It is the foreground half of background promotion: store
// the cached attachment on the record, then dispatch a promote job
// carrying the same snapshot. On success the displaced previous
// attachment is deleted. On conflict the attacher deletes its own
// session uploads, since the record now belongs to someone else's
// change, and reports the conflict.
func (a *Attacher) Persist(ctx context.Context, p Persister) error {
	if len(a.errs) > 0 {
		return &ValidationError{Errors: a.errs}
	}
	if !a.changed {
		return nil
	}
	merged, err := p.CompareAndSet(ctx, a.record, a.attribute, a.source, a.current)
	if err != nil {
		if recoverable(err) {
			var orphans []*UploadedFile
			if f := a.current.File; f != nil && f.Storage == a.cache && a.changed {
				orphans = append(orphans, f)
			}
			orphans = append(orphans, a.pendingDelete...)
			err = errors.Join(err, a.deleteAll(ctx, orphans))
		}
		return err
	}
	cleanupErr := a.cleanupDisplaced(ctx)
	a.adopt(merged)
	return cleanupErr
}

// Finalize promotes the current snapshot and applies the result in a
// single call: Promote then Apply. A cache object that vanished before
// it could be promoted means another writer finished with this
// attachment first, or the cache expired underneath it; either way the
// record's current state is authoritative, so Finalize reports
// ErrConflict rather than a storage failure.
//
// A failed validation refuses to finalize; nothing reaches permanent
// storage for a file that did not pass.
func (a *Attacher) Finalize(ctx context.Context, p Persister) error {
	if len(a.errs) > 0 {
		return &ValidationError{Errors: a.errs}
	}
	if !a.changed && !a.holdsCached() {
		// already promoted and persisted
		return nil
	}
	promoted, err := a.Promote(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return err
	}
	return a.Apply(ctx, p, promoted)
}

// Apply persists promoted, a snapshot produced by Promote, through p
// under the compare-and-set, completing the promotion protocol. On
// success everything the new state displaced is deleted: the promoted
// cache originals, the previously stored file, and replaced or removed
// derivatives. On ErrConflict or ErrRecordMissing the attacher deletes
// only the objects its own promotion created, leaves the record alone,
// and returns the error for the caller to treat as a non-fatal
// outcome; it never retries, because the divergence it lost to is a
// legitimate change.
//
// When the persist itself succeeded, a non-nil return reports only
// cleanup deletions that failed; the new state is in place either way.
func (a *Attacher) Apply(ctx context.Context, p Persister, promoted Snapshot) error {
	sources, created := a.promotionDiff(promoted)
	merged, err := p.CompareAndSet(ctx, a.record, a.attribute, a.source, promoted)
	if err != nil {
		if recoverable(err) {
			err = errors.Join(err, a.deleteAll(ctx, created))
		}
		return err
	}
	// The merge can favour a live derivative over one this promotion
	// created under the same name; such losers are orphans too.
	var cleanup []*UploadedFile
	cleanup = append(cleanup, sources...)
	for _, f := range created {
		if !merged.Contains(f) {
			cleanup = append(cleanup, f)
		}
	}
	cleanupErr := errors.Join(a.deleteAll(ctx, cleanup), a.cleanupDisplaced(ctx))
	a.adopt(merged)
	return cleanupErr
}

// Destroy deletes the attached file and every derivative from storage
// and leaves the attacher empty. Deletes are idempotent, so destroying
// an attachment whose objects are already gone succeeds.
func (a *Attacher) Destroy(ctx context.Context) error {
	var files []*UploadedFile
	if a.current.File != nil {
		files = append(files, a.current.File)
	}
	a.current.Derivatives.Each(func(_ string, f *UploadedFile) error {
		files = append(files, f)
		return nil
	})
	if err := a.deleteAll(ctx, files); err != nil {
		return err
	}
	a.current = Snapshot{Derivatives: NewDerivatives()}
	return nil
}

// DispatchPromote hands the current snapshot to d for background
// promotion. The snapshot captured here becomes the worker's
// compare-and-set expectation, so dispatch only after the cached
// attachment has been persisted.
func (a *Attacher) DispatchPromote(ctx context.Context, d Dispatcher) error {
	return d.Dispatch(ctx, a.job(OpPromote))
}

// DispatchDestroy hands the current snapshot to d for background
// deletion of its objects, typically after the host record is gone.
func (a *Attacher) DispatchDestroy(ctx context.Context, d Dispatcher) error {
	return d.Dispatch(ctx, a.job(OpDestroy))
}

func (a *Attacher) job(op string) Job {
	return Job{
		Op:        op,
		Attacher:  a.name,
		Kind:      a.record.Kind,
		RecordID:  a.record.ID,
		Attribute: a.attribute,
		Snapshot:  a.current.Clone(),
	}
}

// URL resolves the attached file's address.
func (a *Attacher) URL(ctx context.Context, opts URLOptions) (string, error) {
	if a.current.File == nil {
		return "", ErrNoFile
	}
	return a.current.File.URL(ctx, a.registry, opts)
}

// DerivativeURL resolves the named derivative's address.
func (a *Attacher) DerivativeURL(ctx context.Context, name string, opts URLOptions) (string, error) {
	f, ok := a.Derivatives().Get(name)
	if !ok {
		return "", ErrNoFile
	}
	return f.URL(ctx, a.registry, opts)
}

func (a *Attacher) upload(ctx context.Context, content io.Reader, tier string, meta Metadata, derivative string) (*UploadedFile, error) {
	s, err := a.registry.Lookup(tier)
	if err != nil {
		return nil, err
	}
	id := a.location(meta, derivative)
	finalID, extra, err := s.Upload(ctx, content, id, meta)
	if err != nil {
		return nil, &StorageError{Storage: tier, Op: "upload", ID: id, Err: err}
	}
	return &UploadedFile{ID: finalID, Storage: tier, Metadata: meta.merge(extra)}, nil
}

func (a *Attacher) location(meta Metadata, derivative string) string {
	context := a.context
	if derivative != "" {
		context = make(map[string]any, len(a.context)+1)
		for k, v := range a.context {
			context[k] = v
		}
		context["derivative"] = derivative
	}
	return a.namer.Name(meta, context)
}

// holdsCached reports whether any part of the current snapshot still
// sits in cache storage.
func (a *Attacher) holdsCached() bool {
	if f := a.current.File; f != nil && f.Storage == a.cache {
		return true
	}
	cached := false
	a.current.Derivatives.Each(func(_ string, f *UploadedFile) error {
		if f.Storage == a.cache {
			cached = true
		}
		return nil
	})
	return cached
}

// cleanupDisplaced deletes the attachment objects displaced during
// this session, once their replacement is confirmed persisted.
func (a *Attacher) cleanupDisplaced(ctx context.Context) error {
	files := a.pendingDelete
	if a.previousFile != nil {
		files = append(files, a.previousFile)
	}
	return a.deleteAll(ctx, files)
}

// adopt makes the persisted snapshot the attacher's clean state.
func (a *Attacher) adopt(snap Snapshot) {
	a.current = snap.Clone()
	a.source = snap.Clone()
	a.previousFile = nil
	a.pendingDelete = nil
	a.changed = false
}

func (a *Attacher) deleteAll(ctx context.Context, files []*UploadedFile) error {
	var errs []error
	for _, f := range files {
		if err := f.DeleteFrom(ctx, a.registry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
