/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomoncle/tablelab/database"
	"github.com/tomoncle/tablelab/types"
)

type TaskState int

const (
	TaskIdle TaskState = iota
	TaskRunning
	TaskCompleted
	TaskFailed
)

var _ types.BaseEnum = TaskIdle

var taskStateNames = map[TaskState][2]string{
	TaskIdle:      {"idle", "created, not started"},
	TaskRunning:   {"running", "executing on its own goroutine"},
	TaskCompleted: {"completed", "finished with a result"},
	TaskFailed:    {"failed", "finished with an error or panic"},
}

func (s TaskState) IsValid() bool {
	_, ok := taskStateNames[s]
	return ok
}

func (s TaskState) Number() int {
	if !s.IsValid() {
		return types.IllegalValue
	}
	return int(s)
}

func (s TaskState) Name() string {
	if !s.IsValid() {
		return types.IllegalName
	}
	return taskStateNames[s][0]
}

func (s TaskState) Desc() string {
	if !s.IsValid() {
		return types.IllegalDesc
	}
	return taskStateNames[s][1]
}

func (s TaskState) String() string { return s.Name() }

// Done reports whether the state is terminal.
func (s TaskState) Done() bool {
	return s == TaskCompleted || s == TaskFailed
}

// PanicError is the failure recorded when a unit of work panics.
type PanicError struct {
	Task  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

// Task runs one unit of work on its own goroutine and hands its outcome to
// whoever waits. There is no pool and no reordering: each Dispatch is one
// goroutine.
type Task[R any] struct {
	id    string
	name  string
	fn    func(ctx context.Context) (R, error)
	state atomic.Int32
	start sync.Once
	done  chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc

	result   R
	err      error
	started  time.Time
	finished time.Time
}

// NewTask returns an idle task. Nothing runs until Start.
func NewTask[R any](name string, fn func(ctx context.Context) (R, error)) *Task[R] {
	return &Task[R]{
		id:     uuid.NewString(),
		name:   name,
		fn:     fn,
		done:   make(chan struct{}),
		cancel: func() {},
	}
}

// Dispatch starts fn in the background under a child of ctx.
func Dispatch[R any](ctx context.Context, name string, fn func(ctx context.Context) (R, error)) *Task[R] {
	t := NewTask(name, fn)
	t.Start(ctx)
	return t
}

// Start moves an idle task to running. Later calls do nothing.
func (t *Task[R]) Start(ctx context.Context) {
	t.start.Do(func() {
		tctx, cancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.cancel = cancel
		t.mu.Unlock()
		t.started = time.Now()
		t.state.Store(int32(TaskRunning))
		database.Trace("dispatch", t.name, 0, "task", t.id)
		go t.run(tctx)
	})
}

func (t *Task[R]) run(ctx context.Context) {
	defer close(t.done)
	defer t.Cancel()
	defer func() {
		if r := recover(); r != nil {
			t.finish(TaskFailed, &PanicError{Task: t.name, Value: r, Stack: debug.Stack()})
		}
	}()

	res, err := t.fn(ctx)
	if err != nil {
		t.finish(TaskFailed, err)
		return
	}
	t.result = res
	t.finish(TaskCompleted, nil)
}

func (t *Task[R]) finish(state TaskState, err error) {
	t.err = err
	t.finished = time.Now()
	t.state.Store(int32(state))
	database.Trace("complete", t.name, 0, "task", t.id, "state", state, "elapsed", t.finished.Sub(t.started))
}

// Wait blocks until the task finishes or ctx is done, whichever is first,
// and returns the task's result or error. Leaving early does not stop the
// task; use Cancel for that.
func (t *Task[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Cancel cancels the context handed to the unit of work.
func (t *Task[R]) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	cancel()
}

// Done is closed once the task reaches a terminal state.
func (t *Task[R]) Done() <-chan struct{} {
	return t.done
}

func (t *Task[R]) State() TaskState {
	return TaskState(t.state.Load())
}

func (t *Task[R]) ID() string {
	return t.id
}

func (t *Task[R]) Name() string {
	return t.name
}
