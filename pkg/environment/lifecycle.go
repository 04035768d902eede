package environment

import (
	"sync"

	"github.com/boristopalov/agentgym/pkg/core"
)

type phase int

const (
	phaseNew phase = iota
	phaseReady
	phaseDone
	phaseClosed
)

func (p phase) String() string {
	switch p {
	case phaseNew:
		return "new"
	case phaseReady:
		return "ready"
	case phaseDone:
		return "done"
	case phaseClosed:
		return "closed"
	}
	return "unknown"
}

// Lifecycle enforces the reset/step/close ordering shared by every
// environment and accounts steps and rewards exactly once per Step call.
type Lifecycle struct {
	name   string
	phase  phase
	steps  int
	reward float64
	mu     sync.Mutex
}

func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{name: name}
}

// BeginReset fails unless this is the first call on the instance.
func (l *Lifecycle) BeginReset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase != phaseNew {
		return core.Errorf(core.ErrEnvironmentInit, l.name+".Reset", "reset called in state %s; reset is allowed exactly once", l.phase)
	}
	return nil
}

// MarkReady records a successful Reset.
func (l *Lifecycle) MarkReady() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase == phaseNew {
		l.phase = phaseReady
	}
}

// BeginStep fails before Reset and after the episode is done.
func (l *Lifecycle) BeginStep() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.phase {
	case phaseNew:
		return core.Errorf(core.ErrEnvironmentInit, l.name+".Step", "step called before reset")
	case phaseDone:
		return core.Errorf(core.ErrEpisodeDone, l.name+".Step", "step called after done")
	case phaseClosed:
		return core.Errorf(core.ErrEpisodeDone, l.name+".Step", "step called after close")
	}
	return nil
}

// EndStep accounts one Step and latches done.
func (l *Lifecycle) EndStep(res core.StepResult) core.StepResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps++
	l.reward += res.Reward
	if res.Done {
		l.phase = phaseDone
	}
	return res
}

// Close reports whether this call performed the transition; later calls are no-ops.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.phase == phaseClosed {
		return false
	}
	l.phase = phaseClosed
	return true
}

func (l *Lifecycle) Steps() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.steps
}

func (l *Lifecycle) TotalReward() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reward
}
