package types

import "testing"

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInit, "Init"},
		{StateRestoring, "Restoring"},
		{StateRunning, "Running"},
		{StateStopping, "Stopping"},
		{StateStopped, "Stopped"},
		{State(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateInit, StateRestoring, true},
		{StateInit, StateRunning, false},
		{StateRestoring, StateRunning, true},
		{StateRestoring, StateStopped, true},
		{StateRunning, StateStopping, true},
		{StateRunning, StateInit, false},
		{StateStopping, StateStopped, true},
		{StateStopped, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}
