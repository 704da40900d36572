package relay

import (
	"context"

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a Room.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateLive         State = "live"
	StateReconnecting State = "reconnecting"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

// Terminal reports whether the room can no longer accept subscribers.
func (s State) Terminal() bool {
	return s == StateClosing || s == StateClosed
}

// Room state machine events.
const (
	eventConnect     = "connect"
	eventEstablished = "established"
	eventFail        = "fail"
	eventDrop        = "drop"
	eventRetry       = "retry"
	eventClose       = "close"
	eventFinish      = "finish"
)

func newRoomFSM(onEnter func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: eventEstablished, Src: []string{string(StateConnecting)}, Dst: string(StateLive)},
			{Name: eventFail, Src: []string{string(StateConnecting)}, Dst: string(StateReconnecting)},
			{Name: eventDrop, Src: []string{string(StateLive)}, Dst: string(StateReconnecting)},
			{Name: eventRetry, Src: []string{string(StateReconnecting)}, Dst: string(StateConnecting)},

			{Name: eventClose, Src: []string{
				string(StateIdle),
				string(StateConnecting),
				string(StateLive),
				string(StateReconnecting),
			}, Dst: string(StateClosing)},
			{Name: eventFinish, Src: []string{string(StateClosing)}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(State(e.Src), State(e.Dst))
			},
		},
	)
}
