package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bassista/go_leaf/internal/page"
	"github.com/google/uuid"
)

// JobKind selects what a task exports.
type JobKind string

const (
	JobPage    JobKind = "page"
	JobVisible JobKind = "visible"
	JobStack   JobKind = "stack"
)

// Job describes an asynchronous export.
type Job struct {
	Kind     JobKind       `json:"kind" validate:"required,oneof=page visible stack"`
	Target   string        `json:"target"`
	Format   Format        `json:"format"`
	Rotation page.Rotation `json:"rotation"`
}

// Progress is one step of a running task.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// TaskState is where a task is in its life.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskDone      TaskState = "done"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// TaskStatus is a point-in-time view of a task.
type TaskStatus struct {
	ID         string        `json:"id"`
	Job        Job           `json:"job"`
	State      TaskState     `json:"state"`
	Progress   Progress      `json:"progress"`
	Artifact   *Artifact     `json:"artifact,omitempty"`
	Failures   []PageFailure `json:"failures,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// Task is a running export. Progress events are queued on the task and
// forwarded to the channel returned by Progress, so the export never waits
// for a slow reader and no event is dropped.
type Task struct {
	id      string
	job     Job
	cancel  context.CancelFunc
	events  chan Progress
	wake    chan struct{}
	forward sync.Once
	done    chan struct{}

	mu       sync.Mutex
	queue    []Progress
	ended    bool
	state    TaskState
	progress Progress
	result   *StackResult
	err      error
	started  time.Time
	finished time.Time
}

// ID is the task identifier.
func (t *Task) ID() string { return t.id }

// Progress returns the event channel, replaying events sent before the
// call. It is closed after the last event of a finished task; a caller
// must drain it.
func (t *Task) Progress() <-chan Progress {
	t.forward.Do(func() { go t.forwardEvents() })
	return t.events
}

func (t *Task) forwardEvents() {
	sent := 0
	for {
		t.mu.Lock()
		batch := t.queue[sent:]
		ended := t.ended
		t.mu.Unlock()
		for _, ev := range batch {
			t.events <- ev
		}
		sent += len(batch)
		if len(batch) > 0 {
			continue
		}
		if ended {
			close(t.events)
			return
		}
		<-t.wake
	}
}

func (t *Task) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the task ends.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel asks the task to stop after the page it is working on.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task ends and returns its outcome. A cancelled
// export returns ErrExportCancelled.
func (t *Task) Wait(ctx context.Context) (*StackResult, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}

// Status snapshots the task.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TaskStatus{ID: t.id, Job: t.job, State: t.state, Progress: t.progress, StartedAt: t.started}
	if t.result != nil {
		st.Artifact = t.result.Artifact
		st.Failures = t.result.Failures
	}
	if t.err != nil && t.state != TaskCancelled {
		st.Error = t.err.Error()
	}
	if !t.finished.IsZero() {
		fin := t.finished
		st.FinishedAt = &fin
	}
	return st
}

func (t *Task) step(done, total int) {
	t.mu.Lock()
	t.progress = Progress{Done: done, Total: total}
	t.queue = append(t.queue, t.progress)
	t.mu.Unlock()
	t.signal()
}

func (t *Task) finish(res *StackResult, err error) {
	t.mu.Lock()
	t.result, t.err = res, err
	t.finished = now()
	switch {
	case errors.Is(err, page.ErrExportCancelled):
		t.state = TaskCancelled
	case err != nil:
		t.state = TaskFailed
	default:
		t.state = TaskDone
	}
	t.ended = true
	t.mu.Unlock()
	t.signal()
	close(t.done)
}

// Submit starts an export in the background. The job is checked before
// the task starts, so an unknown page or stack fails here.
func (p *Pipeline) Submit(ctx context.Context, job Job) (*Task, error) {
	if _, err := ParseFormat(string(job.Format)); err != nil {
		return nil, err
	}
	switch job.Kind {
	case JobPage:
		if _, ok := p.doc.Lookup(page.ID(job.Target)); !ok {
			return nil, fmt.Errorf("page %s: %w", job.Target, page.ErrPageNotFound)
		}
	case JobVisible:
	case JobStack:
		if _, err := p.doc.Stack(job.Target); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown job kind %q", page.ErrInvalidSpec, job.Kind)
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &Task{
		id:      uuid.NewString(),
		job:     job,
		cancel:  cancel,
		events:  make(chan Progress),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		state:   TaskRunning,
		started: now(),
	}
	p.mu.Lock()
	p.tasks[t.id] = t
	p.mu.Unlock()

	go func() {
		defer cancel()
		res, err := p.run(tctx, t)
		t.finish(res, err)
	}()
	return t, nil
}

func (p *Pipeline) run(ctx context.Context, t *Task) (*StackResult, error) {
	format, _ := ParseFormat(string(t.job.Format))
	single := func(art *Artifact, err error) (*StackResult, error) {
		if ctx.Err() != nil && err != nil {
			return &StackResult{Total: 1, Cancelled: true}, page.ErrExportCancelled
		}
		if err != nil {
			return nil, err
		}
		t.step(1, 1)
		return &StackResult{Artifact: art, Exported: 1, Total: 1}, nil
	}

	switch t.job.Kind {
	case JobPage:
		return single(p.ExportPage(ctx, page.ID(t.job.Target), t.job.Rotation, format))
	case JobVisible:
		return single(p.ExportVisible(ctx, t.job.Rotation, format))
	}

	rotate := func(page.Record) page.Rotation { return t.job.Rotation }
	return p.ExportStack(ctx, t.job.Target, rotate, func(done, total int) bool {
		t.step(done, total)
		return ctx.Err() == nil
	})
}

// Task finds a submitted task.
func (p *Pipeline) Task(id string) (*Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tasks[id]
	return t, ok
}

// Tasks lists every known task.
func (p *Pipeline) Tasks() []TaskStatus {
	p.mu.Lock()
	tasks := make([]*Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		tasks = append(tasks, t)
	}
	p.mu.Unlock()

	out := make([]TaskStatus, len(tasks))
	for i, t := range tasks {
		out[i] = t.Status()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// forgetTasks drops finished tasks that ended before cutoff.
func (p *Pipeline) forgetTasks(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, t := range p.tasks {
		t.mu.Lock()
		old := !t.finished.IsZero() && t.finished.Before(cutoff)
		t.mu.Unlock()
		if old {
			delete(p.tasks, id)
			n++
		}
	}
	return n
}
