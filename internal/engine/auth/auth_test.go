package auth

import (
	"errors"
	"testing"
)

func TestOperatorMayResolve(t *testing.T) {
	if !Allows([]string{RoleOperator}, nil, PermProposalsResolve) {
		t.Fatalf("operator should resolve proposals")
	}
	if Allows([]string{RoleAgent}, nil, PermProposalsResolve) {
		t.Fatalf("agent must not resolve proposals")
	}
	if !Allows(nil, []string{PermProposalsResolve}, PermProposalsResolve) {
		t.Fatalf("explicit permission should be honoured")
	}
}

func TestRequireReturnsForbidden(t *testing.T) {
	err := Require([]string{RoleViewer}, nil, PermActionsInvoke)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != PermActionsInvoke {
		t.Fatalf("expected forbidden error, got %v", err)
	}
	if err := Require([]string{"unknown"}, []string{PermDealsRead}, PermDealsRead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEffectiveDeduplicates(t *testing.T) {
	got := Effective([]string{RoleViewer, RoleAgent}, []string{PermDealsRead})
	want := []string{PermActionsInvoke, PermDealsRead, PermProposalsRead}
	if len(got) != len(want) {
		t.Fatalf("effective = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("effective = %v, want %v", got, want)
		}
	}
}
