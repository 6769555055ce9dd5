package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Publisher receives job status changes. *websocket.Hub satisfies it.
type Publisher interface {
	BroadcastJSON(v any)
}

// Task is the work of one job. The returned message is shown on success.
type Task func(ctx context.Context) (string, error)

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// StatusEvent is broadcast whenever a job changes state.
type StatusEvent struct {
	Type string    `json:"type"`
	Job  JobStatus `json:"job"`
}

// JobManager runs registered jobs one at a time and tracks their status.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]Task
	status  map[string]*JobStatus
	running bool
	events  Publisher
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(events Publisher, log *zap.Logger) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]Task),
		status: make(map[string]*JobStatus),
		events: events,
		log:    log.With(zap.String("component", "jobs")),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (jm *JobManager) Register(id, name string, task Task) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts the job in the background. It fails when another job is
// still running.
func (jm *JobManager) RunJob(id string) error {
	jm.mu.Lock()
	if jm.running {
		jm.mu.Unlock()
		return fmt.Errorf("a job is already running")
	}
	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' not found", id)
	}

	jm.running = true
	status := jm.status[id]
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	snapshot := *status
	jm.mu.Unlock()

	jm.log.Info("starting job", zap.String("job", id))
	jm.publish(snapshot)

	go func() {
		var (
			message string
			err     error
		)
		defer func() {
			if r := recover(); r != nil {
				jm.log.Error("job panicked", zap.String("job", id), zap.Any("panic", r), zap.Stack("stack"))
				err = fmt.Errorf("job panicked: %v", r)
			}

			jm.mu.Lock()
			status.EndTime = time.Now()
			if err != nil {
				status.Status = "failed"
				status.Message = err.Error()
			} else {
				status.Status = "success"
				status.Message = message
				if message == "" {
					status.Message = "Job completed successfully."
				}
			}
			jm.running = false
			snapshot := *status
			jm.mu.Unlock()

			jm.log.Info("finished job", zap.String("job", id), zap.String("status", snapshot.Status), zap.Duration("took", snapshot.EndTime.Sub(snapshot.StartTime)))
			jm.publish(snapshot)
		}()

		message, err = task(jm.ctx)
	}()
	return nil
}

func (jm *JobManager) publish(status JobStatus) {
	if jm.events != nil {
		jm.events.BroadcastJSON(StatusEvent{Type: "job_status", Job: status})
	}
}

// GetStatus returns a snapshot of every job ordered by id.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Stop cancels the context passed to running jobs.
func (jm *JobManager) Stop() {
	jm.cancel()
}
