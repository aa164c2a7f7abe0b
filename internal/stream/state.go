package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"

	"github.com/openfleet/dispatchmap/internal/models"
)

// Transition events for the connection state machine.
const (
	eventDial        = "dial"        // caller asks for a fresh connection
	eventEstablished = "established" // handshake + subscribe succeeded
	eventLost        = "lost"        // unexpected closure, auto-retry follows
	eventRetry       = "retry"       // one backoff attempt begins
	eventDialFailed  = "dial_failed" // initial connect failed
	eventGiveUp      = "give_up"     // retry budget exhausted
	eventStop        = "stop"        // explicit disconnect
)

// stateMachine wraps the connection lifecycle in typed transitions so that
// ordering and cancellation are auditable from one place.
type stateMachine struct {
	mu       sync.RWMutex
	fsm      *fsm.FSM
	onChange func(from, to models.ConnectionState)
}

func newStateMachine(onChange func(from, to models.ConnectionState)) *stateMachine {
	m := &stateMachine{onChange: onChange}

	m.fsm = fsm.NewFSM(
		string(models.StateDisconnected),
		fsm.Events{
			{Name: eventDial, Src: []string{
				string(models.StateDisconnected),
				string(models.StateError),
			}, Dst: string(models.StateConnecting)},

			{Name: eventEstablished, Src: []string{
				string(models.StateConnecting),
				string(models.StateReconnecting),
			}, Dst: string(models.StateConnected)},

			{Name: eventLost, Src: []string{
				string(models.StateConnected),
			}, Dst: string(models.StateReconnecting)},

			{Name: eventRetry, Src: []string{
				string(models.StateConnecting),
				string(models.StateReconnecting),
			}, Dst: string(models.StateReconnecting)},

			{Name: eventDialFailed, Src: []string{
				string(models.StateConnecting),
			}, Dst: string(models.StateError)},

			{Name: eventGiveUp, Src: []string{
				string(models.StateReconnecting),
			}, Dst: string(models.StateDisconnected)},

			{Name: eventStop, Src: []string{
				string(models.StateConnecting),
				string(models.StateConnected),
				string(models.StateReconnecting),
				string(models.StateError),
			}, Dst: string(models.StateDisconnected)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if m.onChange != nil && e.Src != e.Dst {
					m.onChange(models.ConnectionState(e.Src), models.ConnectionState(e.Dst))
				}
			},
		},
	)

	return m
}

// Current returns the connection state.
func (m *stateMachine) Current() models.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.ConnectionState(m.fsm.Current())
}

// Trigger fires a transition event.
func (m *stateMachine) Trigger(event string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("connection state %s: %w", event, err)
	}
	return nil
}

// Can reports whether the event is legal from the current state.
func (m *stateMachine) Can(event string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Can(event)
}
