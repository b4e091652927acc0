package models

import (
	"testing"
	"time"
)

func TestPhaseNext(t *testing.T) {
	tests := []struct {
		phase    PhaseName
		want     PhaseName
		wantMore bool
	}{
		{PhaseSpec, PhaseClarify, true},
		{PhaseClarify, PhasePlan, true},
		{PhasePlan, PhaseTasks, true},
		{PhaseFinalize, PhaseComplete, true},
		{PhaseComplete, "", false},
		{PhaseFailed, "", false},
	}

	for _, tt := range tests {
		got, more := tt.phase.Next()
		if more != tt.wantMore {
			t.Errorf("%s.Next() more = %v, want %v", tt.phase, more, tt.wantMore)
		}
		if got != tt.want {
			t.Errorf("%s.Next() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}

func TestPhaseTerminal(t *testing.T) {
	if !PhaseComplete.Terminal() {
		t.Error("complete should be terminal")
	}
	if !PhaseFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	if PhaseImplement.Terminal() {
		t.Error("implement should not be terminal")
	}
}

func TestPhaseValid(t *testing.T) {
	for _, name := range PhaseSequence {
		if !name.Valid() {
			t.Errorf("phase %q should be valid", name)
		}
	}
	if !PhaseFailed.Valid() {
		t.Error("failed should be valid")
	}
	if PhaseName("shipping").Valid() {
		t.Error("unknown phase should not be valid")
	}
}

func TestGateSatisfied(t *testing.T) {
	tests := []struct {
		name string
		gate Gate
		want bool
	}{
		{"not required", Gate{}, true},
		{"required pending", Gate{Required: true, Status: GateStatusPending}, false},
		{"required approved", Gate{Required: true, Status: GateStatusApproved}, true},
		{"required auto-skipped", Gate{Required: true, Status: GateStatusAutoSkipped}, true},
	}

	for _, tt := range tests {
		if got := tt.gate.Satisfied(); got != tt.want {
			t.Errorf("%s: Satisfied() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLockExpired(t *testing.T) {
	now := time.Now()

	var nilLock *Lock
	if !nilLock.Expired(now) {
		t.Error("nil lock should read as expired")
	}

	live := &Lock{OwnerID: "w1", ExpiresAt: now.Add(time.Minute)}
	if live.Expired(now) {
		t.Error("future lock should not be expired")
	}

	lapsed := &Lock{OwnerID: "w1", ExpiresAt: now.Add(-time.Second)}
	if !lapsed.Expired(now) {
		t.Error("past lock should be expired")
	}

	boundary := &Lock{OwnerID: "w1", ExpiresAt: now}
	if !boundary.Expired(now) {
		t.Error("lock expiring exactly now should be expired")
	}
}

func TestWorkItemClaimable(t *testing.T) {
	tests := []struct {
		name string
		item WorkItem
		want bool
	}{
		{"pending", WorkItem{Status: WorkItemPending}, true},
		{"in progress", WorkItem{Status: WorkItemInProgress}, false},
		{"completed", WorkItem{Status: WorkItemCompleted}, false},
		{"retriable under limit", WorkItem{Status: WorkItemFailedRetriable, RetryCount: 2}, true},
		{"retriable at limit", WorkItem{Status: WorkItemFailedRetriable, RetryCount: 3}, false},
		{"critical", WorkItem{Status: WorkItemFailedCritical}, false},
	}

	for _, tt := range tests {
		if got := tt.item.Claimable(3); got != tt.want {
			t.Errorf("%s: Claimable(3) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
