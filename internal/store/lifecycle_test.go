package store

import "testing"

func TestCanTransition_HappyPath(t *testing.T) {
	path := []FileStatus{StatusPending, StatusProcessing, StatusCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Errorf("CanTransition(%s, %s) = false, want true", path[i], path[i+1])
		}
	}
}

func TestCanTransition_Cancellation(t *testing.T) {
	cases := []struct {
		from, to FileStatus
		want     bool
	}{
		{StatusPending, StatusCancelled, true},
		{StatusProcessing, StatusCancelling, true},
		{StatusCancelling, StatusCancelled, true},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransition_RecoveryPaths(t *testing.T) {
	cases := []struct {
		from, to FileStatus
		want     bool
	}{
		{StatusProcessing, StatusPending, true},
		{StatusError, StatusPending, true},
		{StatusError, StatusOrphaned, true},
		{StatusOrphaned, StatusPending, true}, // manual retry
		{StatusOrphaned, StatusProcessing, false},
		{StatusOrphaned, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransition_NoSelfTransitions(t *testing.T) {
	all := []FileStatus{
		StatusPending, StatusProcessing, StatusCompleted,
		StatusError, StatusCancelling, StatusCancelled, StatusOrphaned,
	}
	for _, s := range all {
		if CanTransition(s, s) {
			t.Errorf("CanTransition(%s, %s) = true, want false", s, s)
		}
	}
}

func TestCanTransition_CompletedOnlyReprocesses(t *testing.T) {
	for _, to := range []FileStatus{StatusProcessing, StatusError, StatusCancelling, StatusOrphaned} {
		if CanTransition(StatusCompleted, to) {
			t.Errorf("CanTransition(COMPLETED, %s) = true, want false", to)
		}
	}
	if !CanTransition(StatusCompleted, StatusPending) {
		t.Error("CanTransition(COMPLETED, PENDING) = false, want true")
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		s    FileStatus
		want bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusCancelling, false},
		{StatusCompleted, true},
		{StatusError, true},
		{StatusCancelled, true},
		{StatusOrphaned, true},
	}
	for _, tc := range cases {
		if got := tc.s.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.s, got, tc.want)
		}
	}
}

func TestTaskStatusActive(t *testing.T) {
	active := []TaskStatus{TaskQueued, TaskRunning}
	inactive := []TaskStatus{TaskCompleted, TaskFailed, TaskCancelled}
	for _, s := range active {
		if !s.Active() {
			t.Errorf("%s.Active() = false, want true", s)
		}
	}
	for _, s := range inactive {
		if s.Active() {
			t.Errorf("%s.Active() = true, want false", s)
		}
	}
}
