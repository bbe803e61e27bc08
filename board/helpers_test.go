package board

import (
	"context"
	"sync"
	"time"

	"prism-board/domain"
)

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualTimers records scheduled callbacks so tests decide when they fire.
type manualTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (m *manualTimers) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &fakeTimer{delay: d, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) active() []*fakeTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*fakeTimer
	for _, t := range m.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fireAll runs every timer that has not been stopped.
func (m *manualTimers) fireAll() {
	for _, t := range m.active() {
		t.stopped = true
		t.fn()
	}
}

type fakeRemote struct {
	mu        sync.Mutex
	taskCalls []domain.TaskPositionChange
	listCalls []domain.ListPositionChange
	failTasks map[string]error
	failLists map[string]error

	// when set, every write signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func (f *fakeRemote) UpdateTaskPositions(ctx context.Context, changes []domain.TaskPositionChange) error {
	f.wait(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls = append(f.taskCalls, changes...)
	for _, c := range changes {
		if err := f.failTasks[c.TaskID]; err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeRemote) UpdateListPosition(ctx context.Context, change domain.ListPositionChange) error {
	f.wait(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, change)
	return f.failLists[change.ListID]
}

func (f *fakeRemote) wait(ctx context.Context) {
	if f.started == nil {
		return
	}
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
	}
}

func (f *fakeRemote) tasks() []domain.TaskPositionChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TaskPositionChange(nil), f.taskCalls...)
}

func (f *fakeRemote) lists() []domain.ListPositionChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ListPositionChange(nil), f.listCalls...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []Failure
}

func (n *recordingNotifier) NotifyFailure(f Failure) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failures)
}

func task(id, listID string, pos int) domain.Task {
	return domain.Task{ID: id, Title: id, ListID: listID, Position: pos}
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
