package taskfsm

import (
	"sync"

	"github.com/syntrixbase/pegasus/pkg/models"
)

// DefaultMaxActiveTasks bounds the number of non-terminal tasks held by a
// Registry at once (spec.md invariant 2).
const DefaultMaxActiveTasks = 5

// Registry maps task ids to TaskFSMs and enforces the active-task cap.
// Terminal tasks remain queryable but do not count against the cap.
type Registry struct {
	mu             sync.RWMutex
	tasks          map[string]*TaskFSM
	maxActiveTasks int
	nonTerminal    int
}

// NewRegistry creates a Registry bounded by maxActiveTasks (default 5).
func NewRegistry(maxActiveTasks int) *Registry {
	if maxActiveTasks <= 0 {
		maxActiveTasks = DefaultMaxActiveTasks
	}
	return &Registry{
		tasks:          make(map[string]*TaskFSM),
		maxActiveTasks: maxActiveTasks,
	}
}

// Register adds fsm to the registry. It fails with ErrRegistryFull if the
// non-terminal count is already at the cap. A freshly constructed TaskFSM is
// always non-terminal (state CREATED).
func (r *Registry) Register(fsm *TaskFSM) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !fsm.State().IsTerminal() && r.nonTerminal >= r.maxActiveTasks {
		return ErrRegistryFull
	}

	r.tasks[fsm.Context().ID] = fsm
	if !fsm.State().IsTerminal() {
		r.nonTerminal++
	}
	return nil
}

// Get returns the TaskFSM for id, or ErrTaskNotFound.
func (r *Registry) Get(id string) (*TaskFSM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fsm, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return fsm, nil
}

// Transition looks up id, applies event via the FSM, and updates the
// registry's non-terminal counter to reflect the resulting state. It
// returns ErrTaskNotFound if id is unknown.
func (r *Registry) Transition(id string, event models.Event) (models.TaskState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fsm, ok := r.tasks[id]
	if !ok {
		return "", ErrTaskNotFound
	}

	wasTerminal := fsm.State().IsTerminal()
	state, err := fsm.Transition(event)
	if err != nil {
		return fsm.State(), err
	}
	isTerminal := state.IsTerminal()

	switch {
	case wasTerminal && !isTerminal:
		r.nonTerminal++
	case !wasTerminal && isTerminal:
		r.nonTerminal--
	}

	return state, nil
}

// NonTerminalCount returns the number of tasks currently counted against the
// active-task cap.
func (r *Registry) NonTerminalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nonTerminal
}

// MaxActiveTasks returns the configured cap.
func (r *Registry) MaxActiveTasks() int {
	return r.maxActiveTasks
}

// ReRegisterNonTerminal marks an existing (previously terminal) task as
// non-terminal again without re-inserting it, used by Agent.Resume. It
// fails with ErrRegistryFull if the cap is already reached.
func (r *Registry) ReRegisterNonTerminal(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fsm, ok := r.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if fsm.State().IsTerminal() {
		return nil
	}
	if r.nonTerminal >= r.maxActiveTasks {
		return ErrRegistryFull
	}
	r.nonTerminal++
	return nil
}
