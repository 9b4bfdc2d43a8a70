// Package lifecycle owns the authoritative state of a crawl job: the
// transition table, runner attachment, and the per-job lock registry that
// keeps at most one runner active per job.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

var transitions = map[crawler.JobState][]crawler.JobState{
	crawler.StatePending: {crawler.StateRunning, crawler.StateCancelled, crawler.StateFailed},
	crawler.StateRunning: {
		crawler.StatePaused,
		crawler.StateCompleted,
		crawler.StateFailed,
		crawler.StateCaptchaDetected,
		crawler.StateCancelled,
	},
	crawler.StatePaused:          {crawler.StateRunning, crawler.StateCancelled},
	crawler.StateCaptchaDetected: {crawler.StateRunning, crawler.StateCancelled},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to crawler.JobState) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is delivered to the observer after every state change.
type Transition struct {
	JobID   string
	From    crawler.JobState
	To      crawler.JobState
	At      time.Time
	Cause   string
	Finding *crawler.ChallengeFinding
}

// Observer is notified synchronously, outside the machine lock, in the order
// transitions happened.
type Observer func(Transition)

// Action tells a runner what to do at a loop boundary.
type Action int

// Runner actions returned by Checkpoint.
const (
	Continue Action = iota
	Park
	Stop
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Park:
		return "park"
	default:
		return "stop"
	}
}

// Machine is the state machine of one job. It is safe for concurrent use by
// the job's runner and command handlers.
type Machine struct {
	mu       sync.Mutex
	notifyMu sync.Mutex
	jobID    string
	state    crawler.JobState
	cause    string
	attached bool
	clock    crawler.Clock
	observer Observer
}

// NewMachine starts a machine in state. Restored jobs pass their stored state.
func NewMachine(jobID string, state crawler.JobState, clock crawler.Clock, observer Observer) *Machine {
	if state == "" {
		state = crawler.StatePending
	}
	return &Machine{
		jobID:    jobID,
		state:    state,
		clock:    clock,
		observer: observer,
	}
}

// State returns the current state.
func (m *Machine) State() crawler.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Cause returns the cause recorded with the last terminal or halting transition.
func (m *Machine) Cause() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cause
}

// Attached reports whether a runner currently owns the job loop.
func (m *Machine) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attached
}

// Claim attaches a runner that already holds the job lock. A PENDING job moves
// to RUNNING; a RUNNING job without a runner is adopted. Any other state, or
// an existing runner, rejects the claim.
func (m *Machine) Claim() (bool, error) {
	m.mu.Lock()
	if m.attached {
		m.mu.Unlock()
		return false, fmt.Errorf("claim job %s: %w", m.jobID, crawler.ErrLockHeld)
	}
	switch m.state {
	case crawler.StateRunning:
		m.attached = true
		m.mu.Unlock()
		return true, nil
	case crawler.StatePending:
		m.attached = true
		tr := m.apply(crawler.StateRunning, "", nil)
		m.mu.Unlock()
		m.notify(tr)
		return true, nil
	default:
		m.mu.Unlock()
		return false, nil
	}
}

// Checkpoint is called by the runner at every loop boundary.
func (m *Machine) Checkpoint() Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case crawler.StateRunning:
		return Continue
	case crawler.StatePaused, crawler.StateCaptchaDetected:
		return Park
	default:
		return Stop
	}
}

// Detach releases runner ownership. It returns true when the job was resumed
// while the runner was parking and therefore needs to be queued again.
func (m *Machine) Detach() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached = false
	return m.state == crawler.StateRunning
}

// Pause moves RUNNING to PAUSED.
func (m *Machine) Pause() error {
	return m.transition(crawler.StateRunning, crawler.StatePaused, "", nil)
}

// Resume moves PAUSED to RUNNING. It returns true when no runner is attached
// and the job must be queued. A resume on a RUNNING job is rejected.
func (m *Machine) Resume() (bool, error) {
	return m.reenter(crawler.StatePaused, "")
}

// SolveCaptcha is the human-confirmed exit from CAPTCHA_DETECTED.
func (m *Machine) SolveCaptcha() (bool, error) {
	return m.reenter(crawler.StateCaptchaDetected, "captcha marked solved")
}

// Halt moves RUNNING to CAPTCHA_DETECTED for the given finding.
func (m *Machine) Halt(halt crawler.ChallengeHalt) error {
	finding := halt.Finding
	return m.transition(crawler.StateRunning, crawler.StateCaptchaDetected, halt.String(), &finding)
}

// Complete moves RUNNING to COMPLETED.
func (m *Machine) Complete() error {
	return m.transition(crawler.StateRunning, crawler.StateCompleted, "", nil)
}

// Fail moves PENDING or RUNNING to FAILED with the given cause.
func (m *Machine) Fail(cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	m.mu.Lock()
	if !CanTransition(m.state, crawler.StateFailed) {
		err := m.invalid(crawler.StateFailed)
		m.mu.Unlock()
		return err
	}
	tr := m.apply(crawler.StateFailed, reason, nil)
	m.mu.Unlock()
	m.notify(tr)
	return nil
}

// Cancel moves any non-terminal state to CANCELLED. A running loop observes it
// at the next checkpoint.
func (m *Machine) Cancel(reason string) error {
	m.mu.Lock()
	if !CanTransition(m.state, crawler.StateCancelled) {
		err := m.invalid(crawler.StateCancelled)
		m.mu.Unlock()
		return err
	}
	tr := m.apply(crawler.StateCancelled, reason, nil)
	m.mu.Unlock()
	m.notify(tr)
	return nil
}

func (m *Machine) reenter(from crawler.JobState, cause string) (bool, error) {
	m.mu.Lock()
	if m.state != from {
		err := m.invalid(crawler.StateRunning)
		m.mu.Unlock()
		return false, err
	}
	tr := m.apply(crawler.StateRunning, cause, nil)
	needsRunner := !m.attached
	m.mu.Unlock()
	m.notify(tr)
	return needsRunner, nil
}

func (m *Machine) transition(
	from, to crawler.JobState,
	cause string,
	finding *crawler.ChallengeFinding,
) error {
	m.mu.Lock()
	if m.state != from {
		err := m.invalid(to)
		m.mu.Unlock()
		return err
	}
	tr := m.apply(to, cause, finding)
	m.mu.Unlock()
	m.notify(tr)
	return nil
}

// apply must be called with mu held.
func (m *Machine) apply(to crawler.JobState, cause string, finding *crawler.ChallengeFinding) Transition {
	tr := Transition{
		JobID:   m.jobID,
		From:    m.state,
		To:      to,
		At:      m.now(),
		Cause:   cause,
		Finding: finding,
	}
	m.state = to
	if cause != "" || to.Terminal() {
		m.cause = cause
	}
	// The notify lock is taken before mu is released so observers see
	// transitions in order.
	m.notifyMu.Lock()
	return tr
}

func (m *Machine) notify(tr Transition) {
	defer m.notifyMu.Unlock()
	if m.observer != nil {
		m.observer(tr)
	}
}

func (m *Machine) invalid(to crawler.JobState) error {
	return fmt.Errorf("job %s %s -> %s: %w", m.jobID, m.state, to, crawler.ErrInvalidTransition)
}

func (m *Machine) now() time.Time {
	if m.clock == nil {
		return time.Now().UTC()
	}
	return m.clock.Now()
}
