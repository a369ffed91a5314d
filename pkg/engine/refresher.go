package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hpconf/hpconf/pkg/remote"
	"github.com/hpconf/hpconf/pkg/telemetry"
)

// TaskKind identifies the remote call a refresh task performs.
type TaskKind string

const (
	TaskServiceStatus   TaskKind = "service_status"
	TaskReadList        TaskKind = "read_list"
	TaskWriteList       TaskKind = "write_list"
	TaskSecret          TaskKind = "secret"
	TaskResourceVersion TaskKind = "resource_version"
)

// FieldRef names a field of a section.
type FieldRef struct {
	Type string
	ID   string
	Key  string
}

// Request describes a remote call to dispatch.
type Request struct {
	Kind TaskKind

	// Name is the service name, list ID, secret kind or resource kind.
	Name string

	// Repo is the upstream repository of a resource version lookup.
	Repo string

	// Text is the list content of a TaskWriteList request.
	Text string

	// Target, when set on a TaskSecret request, receives the secret as a
	// field write once merged.
	Target *FieldRef
}

// ExternalKey is the snapshot key under which the result is merged.
func (r Request) ExternalKey() string {
	return ExternalKey(r.Kind, r.Name)
}

// ExternalKey returns the snapshot key of an external value.
func ExternalKey(kind TaskKind, name string) string {
	switch kind {
	case TaskReadList, TaskWriteList:
		return "list:" + name
	case TaskServiceStatus:
		return "status:" + name
	case TaskResourceVersion:
		return "version:" + name
	}
	return string(kind) + ":" + name
}

// TaskResult is the outcome of a completed refresh task.
type TaskResult struct {
	TaskID    string
	Request   Request
	Version   uint64
	Value     string
	Err       error
	Completed time.Time
}

// Refresher runs remote calls in the background. Each task remembers the
// snapshot version it was dispatched at; the controller merges a result
// only while that version is still current.
type Refresher struct {
	control remote.Control
	timeout time.Duration

	mu      sync.Mutex
	done    []TaskResult
	pending int
	wg      sync.WaitGroup
}

// NewRefresher creates a refresher over control. A zero timeout means 30s.
func NewRefresher(control remote.Control, timeout time.Duration) *Refresher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Refresher{
		control: control,
		timeout: timeout,
	}
}

// Dispatch starts req in a goroutine and returns its task ID. ctx carries
// telemetry only; the task gets its own timeout.
func (r *Refresher) Dispatch(ctx context.Context, req Request, version uint64) string {
	taskID := uuid.New().String()

	r.mu.Lock()
	r.pending++
	r.mu.Unlock()
	r.setPending(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		res := TaskResult{TaskID: taskID, Request: req, Version: version}
		res.Err = telemetry.RemoteCall(taskCtx, string(req.Kind), func(ctx context.Context) error {
			v, err := r.call(ctx, req)
			res.Value = v
			return err
		})
		res.Completed = time.Now()

		r.mu.Lock()
		r.done = append(r.done, res)
		r.pending--
		r.mu.Unlock()
		r.setPending(ctx)
	}()

	return taskID
}

func (r *Refresher) call(ctx context.Context, req Request) (string, error) {
	switch req.Kind {
	case TaskServiceStatus:
		st, err := r.control.ServiceStatus(ctx, req.Name)
		if err != nil {
			return "", err
		}
		if st.Running {
			return "running", nil
		}
		return "stopped", nil
	case TaskReadList:
		return r.control.ReadNamedList(ctx, req.Name)
	case TaskWriteList:
		text := remote.NormalizeList(req.Text)
		if err := r.control.WriteNamedList(ctx, req.Name, text); err != nil {
			return "", err
		}
		return text, nil
	case TaskSecret:
		return r.control.Secret(ctx, req.Name)
	case TaskResourceVersion:
		v, err := r.control.ResourceVersion(ctx, req.Name, req.Repo)
		if err != nil {
			return "", err
		}
		return v.Version, nil
	}
	return "", fmt.Errorf("unknown task kind %q", req.Kind)
}

func (r *Refresher) setPending(ctx context.Context) {
	if tel := telemetry.FromContext(ctx); tel != nil {
		r.mu.Lock()
		n := r.pending
		r.mu.Unlock()
		tel.Metrics.SetRefreshPending(n)
	}
}

// Completed drains the results finished so far, in completion order.
func (r *Refresher) Completed() []TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.done
	r.done = nil
	return out
}

// Pending returns the number of tasks still running.
func (r *Refresher) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Wait blocks until every dispatched task has finished or ctx is done.
func (r *Refresher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
