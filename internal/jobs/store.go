package jobs

import (
	"context"

	"github.com/MimeLyc/image-translator/internal/remote"
)

// PageSize is the number of records a page adds on top of the requested offset.
const PageSize = 50

// Store is the durable local collection of job records.
type Store interface {
	Create(ctx context.Context, rec JobRecord) (JobRecord, error)
	Get(ctx context.Context, id int64) (JobRecord, error)
	// Page returns at most PageSize+offset records, newest id first.
	Page(ctx context.Context, offset int) ([]JobRecord, error)
	Update(ctx context.Context, id int64, patch Patch) error
	// Delete is idempotent.
	Delete(ctx context.Context, id int64) error
	// ListReconcilable returns non-terminal records that already carry a remote job id.
	ListReconcilable(ctx context.Context) ([]JobRecord, error)
}

// Uploader moves a raw image to the remote object store and returns its URL.
type Uploader interface {
	Upload(ctx context.Context, file Upload) (string, error)
}

// Reconciler is the remote job service as seen by the controller.
type Reconciler interface {
	Submit(ctx context.Context, req remote.SubmitRequest) (string, error)
	Stream(ctx context.Context, remoteJobID string, onProgress func(msg string)) (remote.Outcome, error)
	Poll(ctx context.Context, remoteJobID string) (remote.PollResult, error)
}

// Notifier receives the global, user-visible notices, such as a submit rejection.
type Notifier interface {
	Notify(n Notice)
}

type Notice struct {
	JobID   int64  `json:"job_id"`
	Kind    string `json:"kind"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// Metrics is the subset of instrumentation the controller reports to.
type Metrics interface {
	ObserveTransition(status Status)
	ObserveUploadFailure()
	ObserveSubmitRejected(kind string)
	ObserveStreamFallback()
	ObservePollFailure()
}
