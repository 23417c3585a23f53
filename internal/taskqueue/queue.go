// Package taskqueue runs queued mosaic requests one at a time in the
// background and persists them across restarts.
package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/pipeline"
)

var ErrTaskNotFound = errors.New("task not found")

// QueueState represents the persistent queue state
type QueueState struct {
	TaskOrder []string `json:"taskOrder"` // Ordered list of task IDs
}

// QueueStatus represents the current queue status
type QueueStatus struct {
	IsRunning      bool   `json:"isRunning"`
	CurrentTaskID  string `json:"currentTaskID"`
	TotalTasks     int    `json:"totalTasks"`
	CompletedTasks int    `json:"completedTasks"`
	PendingTasks   int    `json:"pendingTasks"`
}

// Executor runs one request. Production code passes Pipeline.Run.
type Executor func(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)

// QueueManager manages the mosaic task queue
type QueueManager struct {
	tasks       map[string]*MosaicTask
	taskOrder   []string // maintains queue order
	mu          sync.RWMutex
	storagePath string // empty disables persistence

	isRunning     bool
	currentTask   *MosaicTask
	cancelCurrent context.CancelFunc

	taskAdded chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once

	// Context for cancellation
	ctx        context.Context
	cancelFunc context.CancelFunc

	executor       Executor
	onTaskComplete func(task MosaicTask)

	workerWg sync.WaitGroup
}

// NewQueueManager creates a queue and loads tasks persisted under storagePath.
// Tasks that were running when the process stopped are queued again.
func NewQueueManager(storagePath string) *QueueManager {
	ctx, cancel := context.WithCancel(context.Background())

	qm := &QueueManager{
		tasks:       make(map[string]*MosaicTask),
		taskOrder:   make([]string, 0),
		storagePath: storagePath,
		taskAdded:   make(chan struct{}, 1),
		stop:        make(chan struct{}),
		ctx:         ctx,
		cancelFunc:  cancel,
	}

	if err := qm.loadState(); err != nil {
		log.Printf("[TaskQueue] Failed to load queue state: %v", err)
	}

	return qm
}

// SetExecutor sets the function that runs each task.
func (qm *QueueManager) SetExecutor(executor Executor) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.executor = executor
}

// SetOnTaskComplete registers a callback invoked with a snapshot of every
// finished task.
func (qm *QueueManager) SetOnTaskComplete(fn func(task MosaicTask)) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	qm.onTaskComplete = fn
}

// getStoragePaths returns paths for queue storage
func (qm *QueueManager) getStoragePaths() (queueFile, tasksDir string) {
	queueFile = filepath.Join(qm.storagePath, "queue.json")
	tasksDir = filepath.Join(qm.storagePath, "tasks")
	return
}

// loadState loads the queue state from disk
func (qm *QueueManager) loadState() error {
	if qm.storagePath == "" {
		return nil
	}
	queueFile, tasksDir := qm.getStoragePaths()

	if data, err := os.ReadFile(queueFile); err == nil {
		var state QueueState
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("failed to parse queue state: %w", err)
		}
		qm.taskOrder = state.TaskOrder
	}

	entries, err := os.ReadDir(tasksDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read task directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		task, err := readTask(filepath.Join(tasksDir, entry.Name()))
		if err != nil {
			log.Printf("[TaskQueue] Failed to load task %s: %v", entry.Name(), err)
			continue
		}
		if task.Status == TaskStatusRunning {
			task.Requeue()
		}
		qm.tasks[task.ID] = task
	}

	// Drop ids without a task file, then append tasks missing from the order.
	validOrder := make([]string, 0, len(qm.taskOrder))
	seen := make(map[string]bool, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		if _, exists := qm.tasks[id]; exists && !seen[id] {
			validOrder = append(validOrder, id)
			seen[id] = true
		}
	}
	for id := range qm.tasks {
		if !seen[id] {
			validOrder = append(validOrder, id)
		}
	}
	qm.taskOrder = validOrder

	log.Printf("[TaskQueue] Loaded %d tasks from disk", len(qm.tasks))
	return nil
}

// saveState saves the queue state to disk. Callers hold mu.
func (qm *QueueManager) saveState() {
	if qm.storagePath == "" {
		return
	}
	queueFile, _ := qm.getStoragePaths()
	if err := os.MkdirAll(filepath.Dir(queueFile), 0755); err != nil {
		log.Printf("[TaskQueue] Failed to create queue directory: %v", err)
		return
	}
	data, err := json.MarshalIndent(QueueState{TaskOrder: qm.taskOrder}, "", "  ")
	if err != nil {
		log.Printf("[TaskQueue] Failed to marshal queue state: %v", err)
		return
	}
	if err := os.WriteFile(queueFile, data, 0644); err != nil {
		log.Printf("[TaskQueue] Failed to write queue state: %v", err)
	}
}

// saveTask saves a single task to disk. Callers hold mu.
func (qm *QueueManager) saveTask(task *MosaicTask) {
	if qm.storagePath == "" {
		return
	}
	_, tasksDir := qm.getStoragePaths()
	if err := writeTask(tasksDir, task); err != nil {
		log.Printf("[TaskQueue] Failed to save task %s: %v", task.ID, err)
	}
}

// AddTask queues req and wakes the worker.
func (qm *QueueManager) AddTask(req pipeline.Request, priority int) MosaicTask {
	qm.mu.Lock()
	task := NewMosaicTask(req)
	task.Priority = priority
	qm.tasks[task.ID] = task
	qm.taskOrder = append(qm.taskOrder, task.ID)
	qm.saveTask(task)
	qm.saveState()
	snapshot := *task
	qm.mu.Unlock()

	select {
	case qm.taskAdded <- struct{}{}:
	default:
	}

	log.Printf("[TaskQueue] Added task: %s (%s)", task.Name, task.ID)
	return snapshot
}

// GetTask returns a snapshot of a task.
func (qm *QueueManager) GetTask(id string) (MosaicTask, error) {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	task, exists := qm.tasks[id]
	if !exists {
		return MosaicTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *task, nil
}

// GetAllTasks returns snapshots of all tasks in queue order.
func (qm *QueueManager) GetAllTasks() []MosaicTask {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	result := make([]MosaicTask, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		if task, exists := qm.tasks[id]; exists {
			result = append(result, *task)
		}
	}
	return result
}

// CancelTask cancels a running or pending task.
func (qm *QueueManager) CancelTask(id string) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	task, exists := qm.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status.Finished() {
		return fmt.Errorf("task already finished")
	}

	task.MarkCancelled()
	if qm.currentTask == task && qm.cancelCurrent != nil {
		qm.cancelCurrent()
	}
	qm.saveTask(task)

	log.Printf("[TaskQueue] Cancelled task: %s", id)
	return nil
}

// DeleteTask removes a task that is not running.
func (qm *QueueManager) DeleteTask(id string) error {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	task, exists := qm.tasks[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status == TaskStatusRunning {
		return fmt.Errorf("cannot delete running task - cancel it first")
	}

	qm.removeLocked(task)
	qm.saveState()

	log.Printf("[TaskQueue] Deleted task: %s", id)
	return nil
}

func (qm *QueueManager) removeLocked(task *MosaicTask) {
	newOrder := make([]string, 0, len(qm.taskOrder))
	for _, taskID := range qm.taskOrder {
		if taskID != task.ID {
			newOrder = append(newOrder, taskID)
		}
	}
	qm.taskOrder = newOrder
	delete(qm.tasks, task.ID)

	if qm.storagePath != "" {
		_, tasksDir := qm.getStoragePaths()
		if err := removeTask(tasksDir, task.ID); err != nil {
			log.Printf("[TaskQueue] Failed to remove task file %s: %v", task.ID, err)
		}
	}
}

// ClearCompleted removes all finished tasks and returns how many were removed.
func (qm *QueueManager) ClearCompleted() int {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	removed := 0
	for _, id := range append([]string(nil), qm.taskOrder...) {
		if task := qm.tasks[id]; task.Status.Finished() {
			qm.removeLocked(task)
			removed++
		}
	}
	qm.saveState()
	log.Printf("[TaskQueue] Cleared %d finished tasks", removed)
	return removed
}

// UpdateProgress records fetch progress on the running task. It is the
// progress callback handed to the pipeline.
func (qm *QueueManager) UpdateProgress(p downloads.DownloadProgress) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	if qm.currentTask != nil {
		qm.currentTask.UpdateProgress(p)
	}
}

// GetStatus returns the current queue status
func (qm *QueueManager) GetStatus() QueueStatus {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	status := QueueStatus{IsRunning: qm.isRunning, TotalTasks: len(qm.tasks)}
	for _, task := range qm.tasks {
		switch task.Status {
		case TaskStatusCompleted:
			status.CompletedTasks++
		case TaskStatusPending:
			status.PendingTasks++
		}
	}
	if qm.currentTask != nil {
		status.CurrentTaskID = qm.currentTask.ID
	}
	return status
}

// Start launches the background worker. Calling it again is a no-op.
func (qm *QueueManager) Start() {
	qm.mu.Lock()
	if qm.isRunning {
		qm.mu.Unlock()
		return
	}
	qm.isRunning = true
	qm.mu.Unlock()

	qm.workerWg.Add(1)
	go qm.worker()
	log.Printf("[TaskQueue] Queue started")
}

// Close cancels the running task, stops the worker and waits for it.
func (qm *QueueManager) Close() {
	qm.stopOnce.Do(func() {
		close(qm.stop)
		qm.cancelFunc()
	})
	qm.workerWg.Wait()

	qm.mu.Lock()
	qm.isRunning = false
	qm.mu.Unlock()
}

// worker processes tasks until Close.
func (qm *QueueManager) worker() {
	defer qm.workerWg.Done()
	log.Printf("[TaskQueue] Worker started")
	defer log.Printf("[TaskQueue] Worker stopped")

	for {
		select {
		case <-qm.stop:
			return
		default:
		}

		task, req, ctx, executor := qm.next()
		if task == nil {
			select {
			case <-qm.stop:
				return
			case <-qm.taskAdded:
			}
			continue
		}

		log.Printf("[TaskQueue] Executing task: %s (%s)", task.Name, task.ID)
		var (
			res *pipeline.Result
			err error
		)
		if executor != nil {
			res, err = executor(ctx, req)
		} else {
			err = fmt.Errorf("no executor configured")
		}
		qm.finish(ctx, task, res, err)
	}
}

// next picks the highest-priority pending task, earliest first, and marks it
// running.
func (qm *QueueManager) next() (*MosaicTask, pipeline.Request, context.Context, Executor) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	var nextTask *MosaicTask
	for _, id := range qm.taskOrder {
		task := qm.tasks[id]
		if task.Status == TaskStatusPending && (nextTask == nil || task.Priority > nextTask.Priority) {
			nextTask = task
		}
	}
	if nextTask == nil {
		return nil, pipeline.Request{}, nil, nil
	}

	ctx, cancel := context.WithCancel(qm.ctx)
	qm.currentTask = nextTask
	qm.cancelCurrent = cancel
	nextTask.MarkStarted()
	qm.saveTask(nextTask)
	return nextTask, nextTask.Request, ctx, qm.executor
}

func (qm *QueueManager) finish(ctx context.Context, task *MosaicTask, res *pipeline.Result, execErr error) {
	qm.mu.Lock()
	switch {
	case task.Status == TaskStatusCancelled:
	case execErr != nil && ctx.Err() != nil:
		task.MarkCancelled()
	case execErr != nil:
		task.MarkFailed(execErr)
		log.Printf("[TaskQueue] Task failed: %s - %v", task.ID, execErr)
	default:
		task.MarkCompleted(res.Run.ID, res.Run.CenteredPath)
		log.Printf("[TaskQueue] Task completed: %s", task.ID)
	}
	qm.cancelCurrent()
	qm.cancelCurrent = nil
	qm.currentTask = nil
	if _, exists := qm.tasks[task.ID]; exists {
		qm.saveTask(task)
	}
	snapshot := *task
	callback := qm.onTaskComplete
	qm.mu.Unlock()

	if callback != nil {
		callback(snapshot)
	}
}
