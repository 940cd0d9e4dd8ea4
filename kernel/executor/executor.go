// Package executor implements a single-threaded, cooperative task
// scheduler. Tasks are never preempted: they run until they return from
// Poll, which they are expected to do promptly by composing YieldNow or
// Sleep at their own suspension points. This is a hand-rolled poll loop,
// not a goroutine scheduler — the kernel never starts the Go runtime's
// own multi-goroutine machinery, so Spawn does not launch a goroutine.
package executor

import (
	"wyvern/kernel"
	"wyvern/kernel/cpu"
	"wyvern/kernel/kfmt"
	"wyvern/kernel/timer"
	"time"
)

// Future is a pollable computation. Poll returns done=true once the
// computation has finished, optionally carrying the error it finished
// with; it returns done=false ("Pending" in the run loop's terms) when
// the computation is not ready yet, having already arranged for its own
// re-wake (by re-enqueuing a task, or by registering a sleep deadline).
type Future interface {
	Poll() (done bool, err *kernel.Error)
}

// nowNsFn and haltFn are mocked by tests.
var (
	nowNsFn = timer.NowNs
	haltFn  = cpu.Halt
)

type taskState int

const (
	stateReady taskState = iota
	stateSleeping
	stateDone
)

// Task wraps a Future with the scheduling state the executor needs to
// track it. A Task is owned by exactly one queue (ready or sleeping) at a
// time, or is the one task currently being polled.
type Task struct {
	future Future
	state  taskState

	deadlineNs uint64
	seq        uint64
}

// NewTask wraps f so it can be handed to Spawn.
func NewTask(f Future) *Task {
	return &Task{future: f, state: stateReady}
}

// Executor holds the ready FIFO and the deadline-ordered sleeping set.
// Every live task is in exactly one of ready, sleeping, or is the task
// currently being polled (current).
type Executor struct {
	ready    []*Task
	sleeping []*Task // kept sorted by (deadlineNs, seq)
	current  *Task
	nextSeq  uint64
}

var global Executor

// Spawn enqueues t onto the ready FIFO.
func Spawn(t *Task) {
	global.spawn(t)
}

func (e *Executor) spawn(t *Task) {
	t.state = stateReady
	e.ready = append(e.ready, t)
}

// YieldNow returns a Future whose first Poll re-enqueues the calling task
// at the ready tail and returns Pending; its second Poll returns Ready(nil).
// It must only be called from within the Future belonging to the task
// currently being polled.
func YieldNow() Future {
	return &yieldFuture{task: global.current}
}

type yieldFuture struct {
	task   *Task
	polled bool
}

func (y *yieldFuture) Poll() (bool, *kernel.Error) {
	if !y.polled {
		y.polled = true
		global.spawn(y.task)
		return false, nil
	}
	return true, nil
}

// Sleep returns a Future that stays Pending until at least d has elapsed,
// as measured by timer.NowNs, then resolves Ready(nil).
func Sleep(d time.Duration) Future {
	return &sleepFuture{
		task:       global.current,
		deadlineNs: nowNsFn() + uint64(d),
	}
}

type sleepFuture struct {
	task       *Task
	deadlineNs uint64
	registered bool
}

func (s *sleepFuture) Poll() (bool, *kernel.Error) {
	if nowNsFn() >= s.deadlineNs {
		return true, nil
	}
	if !s.registered {
		s.registered = true
		s.task.deadlineNs = s.deadlineNs
		global.sleepInsert(s.task)
	}
	return false, nil
}

// sleepInsert adds t to the sleeping set, keeping it sorted by deadline
// with ties broken by insertion order.
func (e *Executor) sleepInsert(t *Task) {
	t.state = stateSleeping
	t.seq = e.nextSeq
	e.nextSeq++

	i := len(e.sleeping)
	for i > 0 && e.sleeping[i-1].deadlineNs > t.deadlineNs {
		i--
	}

	e.sleeping = append(e.sleeping, nil)
	copy(e.sleeping[i+1:], e.sleeping[i:])
	e.sleeping[i] = t
}

// wakeDue moves every sleeping task whose deadline has passed to the
// ready tail, in deadline order (which the sleeping set is already kept
// sorted by).
func (e *Executor) wakeDue(now uint64) {
	i := 0
	for i < len(e.sleeping) && e.sleeping[i].deadlineNs <= now {
		i++
	}
	if i == 0 {
		return
	}

	woken := e.sleeping[:i]
	e.sleeping = e.sleeping[i:]
	for _, t := range woken {
		e.spawn(t)
	}
}

// Run drives the executor forever. It never returns: once both queues are
// empty the kernel has nothing left to do and halts in a loop, waiting on
// whatever external interrupt might spawn more work.
func Run() {
	for {
		global.step()
	}
}

func (e *Executor) step() {
	e.wakeDue(nowNsFn())

	if len(e.ready) > 0 {
		t := e.ready[0]
		e.ready = e.ready[1:]

		e.current = t
		done, err := t.future.Poll()
		e.current = nil

		if done {
			t.state = stateDone
			if err != nil {
				kfmt.Printf("executor: task exited with error: %s\n", err.Error())
			}
		}
		return
	}

	// Ready is empty. Whether or not anything is sleeping, there is
	// nothing to poll right now; halt until the next interrupt. No timer
	// interrupt is wired, so on a polled configuration this may return
	// almost immediately — that's fine, the loop just spins back to
	// wakeDue.
	haltFn()
}
