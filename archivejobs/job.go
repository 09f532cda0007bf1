// Package archivejobs implements the durable extract/create archive job
// queues: KV-backed job records, bounded worker pools, progress throttling,
// and cooperative cancellation (job duration metrics are recorded by the
// facade, not here). Grounded on
// repo/content/committed_content_index.go's KV-backed state-machine pattern
// (load/mutate/save under a per-key lock) and cli/command_index_inspect.go's
// errgroup-bounded worker pool, generalized from a one-shot index rebuild
// into a long-lived job queue with a persisted state machine.
package archivejobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cloudvault/core/cverr"
	"github.com/cloudvault/core/kv"
)

// State is a job's position in its lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Kind distinguishes an extract job from a create job; each has its own KV
// namespace and queue.
type Kind string

const (
	ExtractKind Kind = "archive-extract"
	CreateKind  Kind = "archive-create"
)

// Progress is a job's incremental status, throttled by the orchestrator.
type Progress struct {
	EntriesDone int
	BytesDone   int64
}

// Job is the durable record for one extract or create request.
type Job struct {
	ID           string
	Kind         Kind
	OwnerID      string
	State        State
	Progress     Progress
	Result       map[string]interface{}
	FailedReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func jobKey(kind Kind, id string) string {
	return "cloud:" + string(kind) + ":job:" + id
}

func cancelKey(kind Kind, id string) string {
	return "cloud:" + string(kind) + ":cancel:" + id
}

func resultKey(kind Kind, id string) string {
	return "cloud:" + string(kind) + ":result:" + id
}

const cancelSignalTTL = 6 * time.Hour

// Store persists job records and cancel signals in the shared KV store.
type Store struct {
	kv kv.Store
}

// NewStore wraps a kv.Store for job persistence.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// Create allocates a new waiting job for owner.
func (s *Store) Create(ctx context.Context, kind Kind, owner string) (Job, error) {
	now := time.Now()

	job := Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		OwnerID:   owner,
		State:     StateWaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.save(ctx, job); err != nil {
		return Job{}, err
	}

	return job, nil
}

func (s *Store) save(ctx context.Context, job Job) error {
	job.UpdatedAt = time.Now()
	if err := s.kv.Set(ctx, jobKey(job.Kind, job.ID), job, 0); err != nil {
		return cverr.Wrap(err, cverr.KindInternal, "persisting job")
	}

	return nil
}

// Get loads a job by kind/id.
func (s *Store) Get(ctx context.Context, kind Kind, id string) (Job, error) {
	var job Job

	ok, err := s.kv.Get(ctx, jobKey(kind, id), &job)
	if err != nil {
		return Job{}, cverr.Wrap(err, cverr.KindInternal, "reading job")
	}

	if !ok {
		return Job{}, cverr.NotFound("job %q not found", id)
	}

	return job, nil
}

// Status returns a job's state/progress/result, enforcing that the caller's
// owner matches the job's owner.
func (s *Store) Status(ctx context.Context, kind Kind, id, callerOwner string) (Job, error) {
	job, err := s.Get(ctx, kind, id)
	if err != nil {
		return Job{}, err
	}

	if job.OwnerID != callerOwner {
		return Job{}, cverr.Forbidden("job %q does not belong to this owner", id)
	}

	return job, nil
}

// Cancel removes a waiting job immediately, or sets the cancel signal for an
// active job (polled cooperatively by the worker).
func (s *Store) Cancel(ctx context.Context, kind Kind, id, callerOwner string) error {
	job, err := s.Status(ctx, kind, id, callerOwner)
	if err != nil {
		return err
	}

	switch job.State {
	case StateWaiting:
		if err := s.kv.Delete(ctx, jobKey(kind, id)); err != nil {
			return cverr.Wrap(err, cverr.KindInternal, "removing waiting job")
		}

		return nil
	case StateActive:
		return s.kv.Set(ctx, cancelKey(kind, id), true, cancelSignalTTL)
	default:
		return nil
	}
}

// ShouldCancel polls the cancel signal for a job, for use by archive
// handlers' ExtractOptions.ShouldCancel / CreateOptions.ShouldCancel.
func (s *Store) ShouldCancel(ctx context.Context, kind Kind, id string) bool {
	var flag bool
	ok, err := s.kv.Get(ctx, cancelKey(kind, id), &flag)
	return err == nil && ok && flag
}

func (s *Store) markActive(ctx context.Context, job Job) error {
	job.State = StateActive
	return s.save(ctx, job)
}

func (s *Store) markProgress(ctx context.Context, job Job, p Progress) error {
	job.Progress = p
	return s.save(ctx, job)
}

func (s *Store) markCompleted(ctx context.Context, job Job, result map[string]interface{}) error {
	job.State = StateCompleted
	job.Result = result
	return s.save(ctx, job)
}

func (s *Store) markFailed(ctx context.Context, job Job, reason string) error {
	job.State = StateFailed
	job.FailedReason = reason
	return s.save(ctx, job)
}

func (s *Store) markCancelled(ctx context.Context, job Job) error {
	job.State = StateCancelled
	return s.save(ctx, job)
}

// StoreCreateResult caches a completed create job's archive location at a
// well-known key for durable status lookup independent of the job record.
func (s *Store) StoreCreateResult(ctx context.Context, id string, archiveKey string, archiveSize int64, ttl time.Duration) error {
	result := map[string]interface{}{"archiveKey": archiveKey, "archiveSize": archiveSize}
	return s.kv.Set(ctx, resultKey(CreateKind, id), result, ttl)
}
