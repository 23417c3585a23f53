package taskqueue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/pipeline"
	"hips-mosaic/internal/report"
)

func waitFor(t *testing.T, qm *QueueManager, id string, want TaskStatus) MosaicTask {
	t.Helper()
	var task MosaicTask
	require.Eventually(t, func() bool {
		var err error
		task, err = qm.GetTask(id)
		return err == nil && task.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return task
}

func okExecutor(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	run := report.NewRun(req.Target, "DSS2_Color", 8)
	run.CenteredPath = "/out/" + req.Target + ".png"
	return &pipeline.Result{Run: run}, nil
}

func TestQueueRunsTasks(t *testing.T) {
	t.Parallel()

	qm := NewQueueManager("")
	qm.SetExecutor(okExecutor)
	var done []string
	var mu sync.Mutex
	qm.SetOnTaskComplete(func(task MosaicTask) {
		mu.Lock()
		done = append(done, task.Name)
		mu.Unlock()
	})
	qm.Start()
	defer qm.Close()

	a := qm.AddTask(pipeline.Request{Target: "M51"}, 0)
	b := qm.AddTask(pipeline.Request{Target: "M57"}, 0)
	assert.Equal(t, "M51", a.Name)

	ta := waitFor(t, qm, a.ID, TaskStatusCompleted)
	tb := waitFor(t, qm, b.ID, TaskStatusCompleted)
	assert.NotEmpty(t, ta.RunID)
	assert.Equal(t, "/out/M57.png", tb.OutputPath)
	assert.Equal(t, 100, tb.Progress.Percent)

	status := qm.GetStatus()
	assert.True(t, status.IsRunning)
	assert.Equal(t, 2, status.CompletedTasks)
	assert.Zero(t, status.PendingTasks)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(done) == 2
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"M51", "M57"}, done)
	mu.Unlock()
}

func TestQueuePriority(t *testing.T) {
	t.Parallel()

	qm := NewQueueManager("")
	var order []string
	var mu sync.Mutex
	qm.SetExecutor(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		mu.Lock()
		order = append(order, req.Target)
		mu.Unlock()
		return okExecutor(ctx, req)
	})

	low := qm.AddTask(pipeline.Request{Target: "low"}, 0)
	qm.AddTask(pipeline.Request{Target: "high"}, 5)
	qm.Start()
	defer qm.Close()

	waitFor(t, qm, low.ID, TaskStatusCompleted)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestQueueFailureAndCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	qm := NewQueueManager("")
	qm.SetExecutor(func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
		switch req.Target {
		case "bad":
			return nil, errors.New("no tiles downloaded")
		case "slow":
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return okExecutor(ctx, req)
	})
	qm.Start()
	defer qm.Close()

	bad := qm.AddTask(pipeline.Request{Target: "bad"}, 0)
	failed := waitFor(t, qm, bad.ID, TaskStatusFailed)
	assert.Equal(t, "no tiles downloaded", failed.Error)

	slow := qm.AddTask(pipeline.Request{Target: "slow"}, 0)
	<-started
	qm.UpdateProgress(downloads.DownloadProgress{Downloaded: 3, Total: 9, Percent: 33, Status: "Fetched 3/9 tiles"})
	running, err := qm.GetTask(slow.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusRunning, running.Status)
	assert.Equal(t, 33, running.Progress.Percent)
	assert.Error(t, qm.DeleteTask(slow.ID))

	require.NoError(t, qm.CancelTask(slow.ID))
	waitFor(t, qm, slow.ID, TaskStatusCancelled)
	assert.Error(t, qm.CancelTask(slow.ID))

	assert.Equal(t, 2, qm.ClearCompleted())
	assert.Empty(t, qm.GetAllTasks())
	_, err = qm.GetTask(slow.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueuePersistence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	qm := NewQueueManager(dir)
	first := qm.AddTask(pipeline.Request{Target: "M51", Order: pipeline.AtOrder(9)}, 0)
	second := qm.AddTask(pipeline.Request{Target: "M57"}, 1)
	require.NoError(t, qm.DeleteTask(second.ID))
	qm.AddTask(pipeline.Request{Target: "M31"}, 0)
	qm.Close()

	reloaded := NewQueueManager(dir)
	tasks := reloaded.GetAllTasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, first.ID, tasks[0].ID)
	require.NotNil(t, tasks[0].Request.Order)
	assert.Equal(t, 9, *tasks[0].Request.Order)
	assert.Equal(t, TaskStatusPending, tasks[0].Status)
	assert.Equal(t, "M31", tasks[1].Name)

	_, err := reloaded.GetTask(second.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestQueueRequeuesInterruptedTask(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	task := NewMosaicTask(pipeline.Request{Target: "M51"})
	task.MarkStarted()
	require.NotNil(t, task.StartedAt)
	require.NoError(t, writeTask(filepath.Join(dir, "tasks"), task))

	qm := NewQueueManager(dir)
	defer qm.Close()
	got, err := qm.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.True(t, task.CreatedAt.Equal(got.CreatedAt))
}

func TestNewMosaicTaskName(t *testing.T) {
	t.Parallel()

	task := NewMosaicTask(pipeline.Request{RA: "13h29m52.7s", Dec: "+47d11m43s"})
	assert.Equal(t, "13h29m52.7s +47d11m43s", task.Name)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Contains(t, task.ID, "task_")
}
