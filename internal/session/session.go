// Package session holds the chat lifecycle state machine. A chat starts
// active, admits turns while active, and moves to ended exactly once.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/comigor/chatd/internal/history"
)

// Triggers
const (
	TriggerAdmitTurn = "AdmitTurn"
	TriggerEnd       = "End"
)

// ErrClosed is returned for any trigger fired at an ended chat.
var ErrClosed = errors.New("chat session is closed")

// EndFunc durably records the end of a chat together with its summary. If it
// fails the chat stays active.
type EndFunc func(ctx context.Context, summary string) error

// Machine drives the lifecycle of one chat. It is built per request from the
// stored status and is not safe for concurrent use.
type Machine struct {
	fsm    *stateless.StateMachine
	status history.Status
}

// New returns a machine positioned at status.
func New(status history.Status, onEnd EndFunc) *Machine {
	m := &Machine{status: status}
	m.fsm = stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return m.status, nil
		},
		func(_ context.Context, state stateless.State) error {
			m.status = state.(history.Status)
			return nil
		},
		stateless.FiringImmediate,
	)

	// Leaving active only happens through TriggerEnd; the exit action persists
	// before the in-memory state moves.
	m.fsm.Configure(history.StatusActive).
		InternalTransition(TriggerAdmitTurn, func(_ context.Context, _ ...any) error {
			return nil
		}).
		Permit(TriggerEnd, history.StatusEnded).
		OnExit(func(ctx context.Context, args ...any) error {
			var summary string
			if len(args) > 0 {
				summary, _ = args[0].(string)
			}
			return onEnd(ctx, summary)
		})

	m.fsm.Configure(history.StatusEnded)

	m.fsm.OnUnhandledTrigger(func(_ context.Context, state stateless.State, trigger stateless.Trigger, _ []string) error {
		return fmt.Errorf("%w: %v not permitted while %v", ErrClosed, trigger, state)
	})
	return m
}

// Status reports the current lifecycle state.
func (m *Machine) Status() history.Status {
	return m.status
}

// Admit checks that a new turn may be appended.
func (m *Machine) Admit(ctx context.Context) error {
	return m.fsm.FireCtx(ctx, TriggerAdmitTurn)
}

// End moves the chat to ended, recording summary through the machine's EndFunc.
func (m *Machine) End(ctx context.Context, summary string) error {
	return m.fsm.FireCtx(ctx, TriggerEnd, summary)
}
