package rpc

import (
    "errors"
    "sync"
    "time"
)

// TaskOutcome is the terminal state of a long-running server-side task.
type TaskOutcome uint8

const (
    TaskPending TaskOutcome = iota
    TaskCompleted
    TaskCancelled
    TaskFailed
)

func (o TaskOutcome) String() string {
    switch o {
    case TaskPending:
        return "pending"
    case TaskCompleted:
        return "completed"
    case TaskCancelled:
        return "cancelled"
    default:
        return "failed"
    }
}

// Task is an owned handle to a long-running server-side operation. The
// session keeps only a weak reference to the newest handle; issuing a new
// long-running call supersedes the previous task on the server, which then
// resolves as cancelled.
type Task struct {
    id     string
    client *Client

    mu      sync.Mutex
    outcome TaskOutcome
    errMsg  string
    done    chan struct{}
}

// ID returns the server-assigned task id.
func (t *Task) ID() string { return t.id }

// Done returns a channel closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Outcome returns the terminal outcome, or TaskPending while in flight.
func (t *Task) Outcome() TaskOutcome {
    t.mu.Lock(); defer t.mu.Unlock()
    return t.outcome
}

// Err returns the failure message for TaskFailed outcomes, nil otherwise.
func (t *Task) Err() error {
    t.mu.Lock(); defer t.mu.Unlock()
    if t.outcome == TaskFailed && t.errMsg != "" {
        return errors.New(t.errMsg)
    }
    return nil
}

// Wait blocks up to timeout and returns true only if the task completed
// normally — not via cancellation, failure or timeout. Callers branch on
// this to decide whether a corrective command is needed.
func (t *Task) Wait(timeout time.Duration) bool {
    timer := time.NewTimer(timeout)
    defer timer.Stop()
    select {
    case <-t.done:
        return t.Outcome() == TaskCompleted
    case <-timer.C:
        return false
    }
}

// Cancel sends a cancellation request for this task. Fire-and-forget from
// the caller's perspective: the remote operation is only signalled, not
// guaranteed to stop immediately. A superseded handle is a no-op since the
// server already cancelled it.
func (t *Task) Cancel() error {
    if t.client == nil || !t.client.isLastTask(t) {
        return nil
    }
    return t.client.CancelLastTask()
}

// resolve marks the task terminal exactly once.
func (t *Task) resolve(outcome TaskOutcome, errMsg string) {
    t.mu.Lock()
    if t.outcome != TaskPending {
        t.mu.Unlock()
        return
    }
    t.outcome = outcome
    t.errMsg = errMsg
    t.mu.Unlock()
    close(t.done)
}
