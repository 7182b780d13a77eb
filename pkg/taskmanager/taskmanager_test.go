package taskmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	topics   []string
	payloads []interface{}
}

func (n *recordingNotifier) Broadcast(messageType, topic string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.topics = append(n.topics, messageType+"@"+topic)
	n.payloads = append(n.payloads, payload)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.payloads)
}

func waitStatus(t *testing.T, tm *TaskManager, id uuid.UUID, status TaskStatus) Task {
	t.Helper()
	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = tm.GetTask(id)
		return err == nil && task.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestTaskManager_CompletesWithProgress(t *testing.T) {
	notifier := &recordingNotifier{}
	tm := New(Config{MaxTasks: 2, Topic: func(id uuid.UUID) string { return "run:" + id.String() }, MessageType: "run_update"})
	tm.SetNotifier(notifier)

	release := make(chan struct{})
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		<-release
		assert.True(t, report("step 1"))
		assert.True(t, report("step 2"))
		return "done", nil
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []interface{}
	require.NoError(t, tm.RegisterCallback(id, func(task Task) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, task.Progress)
	}))
	close(release)

	task := waitStatus(t, tm, id, TaskStatusCompleted)
	assert.Equal(t, "done", task.Result)
	assert.Equal(t, "step 2", task.Progress)
	assert.NoError(t, task.Err)

	mu.Lock()
	assert.Contains(t, seen, "step 1")
	assert.Contains(t, seen, "step 2")
	mu.Unlock()

	require.GreaterOrEqual(t, notifier.count(), 2)
	notifier.mu.Lock()
	assert.Equal(t, "run_update@run:"+id.String(), notifier.topics[0])
	notifier.mu.Unlock()
}

func TestTaskManager_MaxTasks(t *testing.T) {
	tm := New(Config{MaxTasks: 1})
	release := make(chan struct{})
	defer close(release)

	_, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	_, err = tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrTooManyTasks)
	assert.Equal(t, 1, tm.ActiveTasks())
}

func TestTaskManager_DetachDropsLateResults(t *testing.T) {
	tm := New(Config{})
	release := make(chan struct{})
	reported := make(chan bool, 1)

	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		<-release
		assert.NoError(t, ctx.Err(), "detaching must not cancel the task context")
		reported <- report("late")
		return "late result", nil
	})
	require.NoError(t, err)
	waitStatus(t, tm, id, TaskStatusRunning)

	require.NoError(t, tm.DetachTask(id))
	close(release)

	assert.False(t, <-reported)
	require.NoError(t, tm.Shutdown(context.Background()))

	task, err := tm.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusDetached, task.Status)
	assert.Nil(t, task.Result)
	assert.Nil(t, task.Progress)
}

func TestTaskManager_Failure(t *testing.T) {
	tm := New(Config{})
	boom := errors.New("boom")

	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		report("partial")
		return "partial result", boom
	})
	require.NoError(t, err)

	task := waitStatus(t, tm, id, TaskStatusFailed)
	assert.ErrorIs(t, task.Err, boom)
	assert.Equal(t, "partial", task.Progress)
}

func TestTaskManager_PanicIsFailure(t *testing.T) {
	tm := New(Config{})
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		panic("kaboom")
	})
	require.NoError(t, err)

	task := waitStatus(t, tm, id, TaskStatusFailed)
	assert.ErrorContains(t, task.Err, "kaboom")
}

func TestTaskManager_CleanupAndNotFound(t *testing.T) {
	tm := New(Config{})
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		return 1, nil
	})
	require.NoError(t, err)
	waitStatus(t, tm, id, TaskStatusCompleted)

	assert.Equal(t, 0, tm.CleanupTasks(time.Hour))
	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, 1, tm.CleanupTasks(time.Millisecond))

	_, err = tm.GetTask(id)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, tm.DetachTask(id), ErrTaskNotFound)
	assert.ErrorIs(t, tm.RegisterCallback(id, func(Task) {}), ErrTaskNotFound)
}

func TestTaskManager_ShutdownRejectsNewTasks(t *testing.T) {
	tm := New(Config{})
	require.NoError(t, tm.Shutdown(context.Background()))

	_, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		return nil, nil
	})
	assert.Error(t, err)
}

func TestTaskManager_ShutdownTimeoutCancelsTasks(t *testing.T) {
	tm := New(Config{})
	id, err := tm.SubmitTask(context.Background(), func(ctx context.Context, _ uuid.UUID, report ProgressFunc) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)
	waitStatus(t, tm, id, TaskStatusRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, tm.Shutdown(ctx))

	task := waitStatus(t, tm, id, TaskStatusFailed)
	assert.ErrorIs(t, task.Err, context.Canceled)
}
