package jobs

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/MimeLyc/image-translator/internal/remote"
)

type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]JobRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[int64]JobRecord)}
}

func (m *memoryStore) Create(_ context.Context, rec JobRecord) (JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.jobs[rec.ID] = rec
	return rec, nil
}

func (m *memoryStore) Get(_ context.Context, id int64) (JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return JobRecord{}, NotFoundError(id)
	}
	return rec, nil
}

func (m *memoryStore) Page(_ context.Context, offset int) ([]JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]JobRecord, 0, len(m.jobs))
	for _, rec := range m.jobs {
		ret = append(ret, rec)
	}
	slices.SortFunc(ret, func(a, b JobRecord) int { return int(b.ID - a.ID) })
	if limit := PageSize + max(offset, 0); len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}

func (m *memoryStore) Update(_ context.Context, id int64, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return NotFoundError(id)
	}
	m.jobs[id] = patch.Apply(rec)
	return nil
}

func (m *memoryStore) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *memoryStore) ListReconcilable(_ context.Context) ([]JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]JobRecord, 0)
	for _, rec := range m.jobs {
		if !rec.Status.IsTerminal() && rec.RemoteJobID != "" {
			ret = append(ret, rec)
		}
	}
	slices.SortFunc(ret, func(a, b JobRecord) int { return int(a.ID - b.ID) })
	return ret, nil
}

func (m *memoryStore) get(id int64) (JobRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	return rec, ok
}

func (m *memoryStore) put(rec JobRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID > m.nextID {
		m.nextID = rec.ID
	}
	m.jobs[rec.ID] = rec
}

// hookStore runs callbacks after writes succeed, so tests can interleave
// other controller calls at exact points of a job's lifecycle.
type hookStore struct {
	*memoryStore
	afterCreate func(id int64)
	afterUpdate func(id int64, patch Patch)
}

func (h *hookStore) Create(ctx context.Context, rec JobRecord) (JobRecord, error) {
	created, err := h.memoryStore.Create(ctx, rec)
	if err == nil && h.afterCreate != nil {
		h.afterCreate(created.ID)
	}
	return created, err
}

func (h *hookStore) Update(ctx context.Context, id int64, patch Patch) error {
	err := h.memoryStore.Update(ctx, id, patch)
	if err == nil && h.afterUpdate != nil {
		h.afterUpdate(id, patch)
	}
	return err
}

type fakeUploader struct {
	url string
	err error
}

func (f fakeUploader) Upload(_ context.Context, file Upload) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.url != "" {
		return f.url, nil
	}
	return "https://x/" + file.Filename, nil
}

// fakeReconciler scripts the remote job service. Each Stream call consumes
// the next entry of streams; Poll calls consume polls the same way.
type fakeReconciler struct {
	mu sync.Mutex

	submitID  string
	submitErr error
	submitted []remote.SubmitRequest

	streams     []streamScript
	streamCalls []string

	polls     []pollScript
	pollCalls []string
}

type streamScript struct {
	progress []string
	outcome  remote.Outcome
	err      error
}

type pollScript struct {
	result remote.PollResult
	err    error
}

var errConnReset = errors.New("connection reset by peer")

func (f *fakeReconciler) Submit(_ context.Context, req remote.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.submitID, nil
}

func (f *fakeReconciler) Stream(_ context.Context, remoteJobID string, onProgress func(string)) (remote.Outcome, error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, remoteJobID)
	var script streamScript
	if len(f.streams) > 0 {
		script = f.streams[0]
		f.streams = f.streams[1:]
	} else {
		script = streamScript{err: remote.ErrStreamInterrupted}
	}
	f.mu.Unlock()

	for _, msg := range script.progress {
		onProgress(msg)
	}
	return script.outcome, script.err
}

func (f *fakeReconciler) Poll(_ context.Context, remoteJobID string) (remote.PollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCalls = append(f.pollCalls, remoteJobID)
	if len(f.polls) == 0 {
		return remote.PollResult{}, errors.New("no poll scripted")
	}
	script := f.polls[0]
	f.polls = f.polls[1:]
	return script.result, script.err
}

func (f *fakeReconciler) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

func (f *fakeReconciler) calls() (streams, polls []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.streamCalls), slices.Clone(f.pollCalls)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.notices)
}
