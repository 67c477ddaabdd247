package analysis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/needmatch/core"
	"github.com/poiesic/needmatch/storage"
	badgerstore "github.com/poiesic/needmatch/storage/badger"
)

type fakeMsg struct {
	data []byte

	mu         sync.Mutex
	acks       int
	naks       int
	terms      int
	inProgress int
}

func (m *fakeMsg) Data() []byte { return m.data }

func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks++
	return nil
}

func (m *fakeMsg) Nak() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.naks++
	return nil
}

func (m *fakeMsg) Term() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms++
	return nil
}

func (m *fakeMsg) InProgress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inProgress++
	return nil
}

func jobFor(t *testing.T, req core.AnalysisRequest, task *core.AnalysisTask) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(jobMessage{Request: req, Task: task})
	require.NoError(t, err)
	return &fakeMsg{data: data}
}

func newTestWorker(t *testing.T, runner *Runner) (*Worker, storage.ProgressStore) {
	t.Helper()
	db, err := badgerstore.OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	progress := badgerstore.NewProgressRepository(db)

	// Run needs a JetStream connection; handle does not.
	w := &Worker{
		runner:       runner,
		progress:     progress,
		sink:         NewStoreSink(progress, time.Hour),
		ttl:          time.Hour,
		pollInterval: 5 * time.Millisecond,
		logger:       runner.logger,
	}
	return w, progress
}

func TestWorker_RunsJobAndAcks(t *testing.T) {
	docs := papers(2)
	runner, _ := newTestRunner(t, newFakeRecords(docs...), &scriptedModel{}, &fakeFetcher{})
	w, progress := newTestWorker(t, runner)

	req, task := newTask(docIDs(docs))
	msg := jobFor(t, req, task)
	w.handle(context.Background(), msg)

	assert.Equal(t, 1, msg.acks)
	got, err := LoadSnapshot(context.Background(), progress, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, got.Status)
	assert.Len(t, got.Result.Analyses, 2)
}

func TestWorker_TerminatesMalformedJob(t *testing.T) {
	runner, _ := newTestRunner(t, newFakeRecords(), &scriptedModel{}, &fakeFetcher{})
	w, _ := newTestWorker(t, runner)

	for _, data := range []string{"{not json", `{"request": {}}`} {
		msg := &fakeMsg{data: []byte(data)}
		w.handle(context.Background(), msg)
		assert.Equal(t, 1, msg.terms, data)
		assert.Zero(t, msg.acks, data)
	}
}

func TestWorker_AcksFinishedRedelivery(t *testing.T) {
	docs := papers(1)
	fetcher := &fakeFetcher{}
	runner, _ := newTestRunner(t, newFakeRecords(docs...), &scriptedModel{}, fetcher)
	w, progress := newTestWorker(t, runner)

	req, task := newTask(docIDs(docs))
	done := task.Clone()
	done.Status = core.TaskCompleted
	require.NoError(t, NewStoreSink(progress, time.Hour).Publish(context.Background(), done))

	msg := jobFor(t, req, task)
	w.handle(context.Background(), msg)
	assert.Equal(t, 1, msg.acks)
	assert.Zero(t, fetcher.calls.Load())
}

func TestWorker_NaksDuringShutdown(t *testing.T) {
	runner, _ := newTestRunner(t, newFakeRecords(), &scriptedModel{}, &fakeFetcher{})
	w, _ := newTestWorker(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, task := newTask([]string{"d1"})
	msg := jobFor(t, req, task)
	w.handle(ctx, msg)
	assert.Equal(t, 1, msg.naks)
	assert.Zero(t, msg.acks)
}

func TestWorker_SkipsTaskCancelledWhileQueued(t *testing.T) {
	docs := papers(3)
	fetcher := &fakeFetcher{}
	runner, completer := newTestRunner(t, newFakeRecords(docs...), &scriptedModel{}, fetcher)
	w, progress := newTestWorker(t, runner)
	w.pollInterval = time.Second

	req, task := newTask(docIDs(docs))
	require.NoError(t, NewStoreSink(progress, time.Hour).Publish(context.Background(), task))
	require.NoError(t, raiseCancelFlag(context.Background(), progress, time.Hour, task.TaskID))

	msg := jobFor(t, req, task)
	w.handle(context.Background(), msg)

	assert.Equal(t, 1, msg.acks)
	got, err := LoadSnapshot(context.Background(), progress, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, got.Status)
	for _, id := range docIDs(docs) {
		assert.Equal(t, core.SubPending, got.PerDoc[id].Status, id)
	}
	assert.Zero(t, fetcher.calls.Load())
	assert.Zero(t, completer.CallCount())
}

func TestWorker_CancelFlagStopsAtNextCheckpoint(t *testing.T) {
	docs := papers(3)
	var progress storage.ProgressStore
	var taskID string
	fetcher := &fakeFetcher{fn: func(ctx context.Context, _, id string, _ int) (string, error) {
		// The flag goes up while the first document is being fetched.
		if err := raiseCancelFlag(ctx, progress, time.Hour, taskID); err != nil {
			return "", err
		}
		return "Full text of " + id, nil
	}}
	cfg := testConfig()
	cfg.DocConcurrency = 1
	runner, completer := newTestRunner(t, newFakeRecords(docs...), &scriptedModel{}, fetcher, WithConfig(cfg))
	w, store := newTestWorker(t, runner)
	w.pollInterval = time.Second
	progress = store

	req, task := newTask(docIDs(docs))
	taskID = task.TaskID
	msg := jobFor(t, req, task)
	w.handle(context.Background(), msg)

	assert.Equal(t, 1, msg.acks)
	got, err := LoadSnapshot(context.Background(), progress, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCancelled, got.Status)
	assert.Equal(t, core.SubFetched, got.PerDoc["d1"].Status)
	assert.Equal(t, core.SubPending, got.PerDoc["d3"].Status)
	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Zero(t, completer.CallCount())
}

func TestProgressKeys(t *testing.T) {
	assert.Equal(t, "progress:abc", ProgressKey("abc"))
	assert.Equal(t, "cancel:abc", CancelKey("abc"))
}
