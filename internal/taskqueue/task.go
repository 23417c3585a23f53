package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/pipeline"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Finished reports whether the task will not run again.
func (s TaskStatus) Finished() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// TaskProgress is the fetch progress of a running task.
type TaskProgress struct {
	TilesTotal     int    `json:"tilesTotal"`
	TilesCompleted int    `json:"tilesCompleted"`
	Percent        int    `json:"percent"`
	Status         string `json:"status,omitempty"`
}

// MosaicTask is one queued mosaic run.
type MosaicTask struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   TaskStatus `json:"status"`
	Priority int        `json:"priority"` // higher runs first

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Request  pipeline.Request `json:"request"`
	Progress TaskProgress     `json:"progress"`
	Error    string           `json:"error,omitempty"`

	RunID      string `json:"runId,omitempty"`
	OutputPath string `json:"outputPath,omitempty"`
}

// NewMosaicTask creates a pending task for req, named after the target or
// its coordinates.
func NewMosaicTask(req pipeline.Request) *MosaicTask {
	name := req.Target
	if name == "" {
		name = fmt.Sprintf("%s %s", req.RA, req.Dec)
	}
	return &MosaicTask{
		ID:        "task_" + uuid.NewString(),
		Name:      name,
		Status:    TaskStatusPending,
		CreatedAt: time.Now().UTC(),
		Request:   req,
	}
}

// UpdateProgress copies fetch progress into the task.
func (t *MosaicTask) UpdateProgress(p downloads.DownloadProgress) {
	t.Progress = TaskProgress{
		TilesTotal:     p.Total,
		TilesCompleted: p.Downloaded,
		Percent:        min(max(p.Percent, 0), 100),
		Status:         p.Status,
	}
}

func (t *MosaicTask) MarkStarted() {
	now := time.Now().UTC()
	t.StartedAt = &now
	t.Status = TaskStatusRunning
}

// Requeue puts an interrupted task back to pending.
func (t *MosaicTask) Requeue() {
	t.StartedAt = nil
	t.Status = TaskStatusPending
}

func (t *MosaicTask) MarkCompleted(runID, outputPath string) {
	t.finish(TaskStatusCompleted)
	t.RunID = runID
	t.OutputPath = outputPath
	t.Progress.Percent = 100
}

func (t *MosaicTask) MarkFailed(err error) {
	t.finish(TaskStatusFailed)
	if err != nil {
		t.Error = err.Error()
	}
}

func (t *MosaicTask) MarkCancelled() {
	t.finish(TaskStatusCancelled)
}

func (t *MosaicTask) finish(status TaskStatus) {
	now := time.Now().UTC()
	t.CompletedAt = &now
	t.Status = status
}

func taskFile(dir, id string) string {
	return filepath.Join(dir, id+".json")
}

// writeTask stores t as dir/<id>.json, replacing any previous copy atomically.
func writeTask(dir string, t *MosaicTask) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	path := taskFile(dir, t.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	return os.Rename(tmp, path)
}

func readTask(path string) (*MosaicTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	var task MosaicTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", filepath.Base(path), err)
	}
	return &task, nil
}

func removeTask(dir, id string) error {
	err := os.Remove(taskFile(dir, id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
