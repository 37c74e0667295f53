package poller

import "fmt"

// State is a position in the lifecycle of one request/poll cycle.
type State int

const (
	Idle State = iota
	Opened
	Polling
	Completed
	TimedOut
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opened:
		return "opened"
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == Completed || s == TimedOut || s == Cancelled
}

var transitions = map[State][]State{
	Idle:    {Opened, Cancelled},
	Opened:  {Polling, Cancelled},
	Polling: {Completed, TimedOut, Cancelled},
}

type machine struct {
	st       State
	onChange func(from, to State)
}

func newMachine(onChange func(from, to State)) *machine {
	return &machine{st: Idle, onChange: onChange}
}

// advance panics on a transition not in the table; the loop never asks for one.
func (m *machine) advance(next State) {
	for _, allowed := range transitions[m.st] {
		if allowed == next {
			from := m.st
			m.st = next
			if m.onChange != nil {
				m.onChange(from, next)
			}
			return
		}
	}
	panic(fmt.Sprintf("poller: illegal transition %s -> %s", m.st, next))
}
