package access

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maktabhq/maktab-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

func activeMember() *models.FirmUser {
	return &models.FirmUser{
		ID:     uuid.New(),
		FirmID: uuid.New(),
		UserID: uuid.New(),
		Status: models.MemberActive,
	}
}

func grant(level models.AccessLevel, expiresAt *time.Time) *models.UserResourceAccess {
	return &models.UserResourceAccess{
		ID:          uuid.New(),
		AccessLevel: level,
		ExpiresAt:   expiresAt,
	}
}

func ptr(t time.Time) *time.Time { return &t }

/* ============================================================================
   Resolution precedence
   ============================================================================ */

// A grant with level "none" denies even when the role would allow.
func Test_Resolve_NoneGrantOverridesRole(t *testing.T) {
	caseID := uuid.New()
	s := Snapshot{
		Membership: activeMember(),
		Role:       &models.Role{Permissions: []string{"case:view", "case:edit", "case:manage"}},
		Grant:      grant(models.AccessNone, nil),
	}

	for _, a := range []models.Action{models.ActionView, models.ActionEdit, models.ActionManage} {
		if Resolve(s, models.ResCase, caseID, a, time.Now()) {
			t.Fatalf("none grant should deny %s despite role permissions", a)
		}
	}
}

// A sufficient grant allows without looking at the role at all.
func Test_Resolve_GrantAllowsWithoutRole(t *testing.T) {
	caseID := uuid.New()
	s := Snapshot{
		Membership: activeMember(),
		Role:       nil,
		Grant:      grant(models.AccessEdit, nil),
	}

	if !Resolve(s, models.ResCase, caseID, models.ActionView, time.Now()) {
		t.Fatal("edit grant should allow view")
	}
	if !Resolve(s, models.ResCase, caseID, models.ActionEdit, time.Now()) {
		t.Fatal("edit grant should allow edit")
	}
	if Resolve(s, models.ResCase, caseID, models.ActionManage, time.Now()) {
		t.Fatal("edit grant must not allow manage with no role behind it")
	}
}

// An insufficient positive grant falls through to the role instead of denying.
func Test_Resolve_InsufficientGrantFallsThroughToRole(t *testing.T) {
	caseID := uuid.New()
	s := Snapshot{
		Membership: activeMember(),
		Role:       &models.Role{Permissions: []string{"case:manage"}},
		Grant:      grant(models.AccessView, nil),
	}

	if !Resolve(s, models.ResCase, caseID, models.ActionManage, time.Now()) {
		t.Fatal("role permission should decide when the grant level is too low")
	}
}

// An expired grant behaves exactly like no grant.
func Test_Resolve_ExpiredGrantIsAbsent(t *testing.T) {
	caseID := uuid.New()
	now := time.Now()

	// Expired "none" no longer blocks the role.
	s := Snapshot{
		Membership: activeMember(),
		Role:       &models.Role{Permissions: []string{"case:view"}},
		Grant:      grant(models.AccessNone, ptr(now.Add(-time.Hour))),
	}
	if !Resolve(s, models.ResCase, caseID, models.ActionView, now) {
		t.Fatal("expired none grant should not override the role")
	}

	// Expired "manage" no longer allows.
	s.Grant = grant(models.AccessManage, ptr(now.Add(-time.Hour)))
	if Resolve(s, models.ResCase, caseID, models.ActionManage, now) {
		t.Fatal("expired manage grant should not allow")
	}

	// A future expiry is still live.
	s.Grant = grant(models.AccessManage, ptr(now.Add(time.Hour)))
	if !Resolve(s, models.ResCase, caseID, models.ActionManage, now) {
		t.Fatal("unexpired grant should allow")
	}
}

// Custom permission keys on the membership work without any role.
func Test_Resolve_CustomPermissions_NoRole(t *testing.T) {
	m := activeMember()
	m.CustomPermissions = []string{"client:edit"}
	s := Snapshot{Membership: m}

	if !Resolve(s, models.ResClient, uuid.Nil, models.ActionEdit, time.Now()) {
		t.Fatal("custom permission key should allow")
	}
	if Resolve(s, models.ResClient, uuid.Nil, models.ActionManage, time.Now()) {
		t.Fatal("custom permission keys are exact, not a ladder")
	}
}

// A policy rule with a resource ID only matches that resource; a rule with
// a nil ID matches every resource of the type.
func Test_Resolve_PolicyRuleScoping(t *testing.T) {
	target := uuid.New()
	other := uuid.New()

	role := &models.Role{Policy: []models.PolicyRule{
		{ResourceType: models.ResCase, ResourceID: &target, Actions: []models.Action{models.ActionEdit}},
		{ResourceType: models.ResHearing, Actions: []models.Action{models.ActionView}},
	}}
	s := Snapshot{Membership: activeMember(), Role: role}
	now := time.Now()

	if !Resolve(s, models.ResCase, target, models.ActionEdit, now) {
		t.Fatal("scoped rule should match its own resource")
	}
	if Resolve(s, models.ResCase, other, models.ActionEdit, now) {
		t.Fatal("scoped rule must not leak to other resources")
	}
	if Resolve(s, models.ResCase, target, models.ActionManage, now) {
		t.Fatal("rule actions are exact")
	}
	if !Resolve(s, models.ResHearing, other, models.ActionView, now) {
		t.Fatal("type-wide rule should match any resource of the type")
	}
}

// No membership, or a suspended one, denies everything.
func Test_Resolve_MembershipGatesEverything(t *testing.T) {
	now := time.Now()

	if Resolve(Snapshot{}, models.ResCase, uuid.Nil, models.ActionView, now) {
		t.Fatal("missing membership should deny")
	}

	m := activeMember()
	m.Status = models.MemberSuspended
	m.CustomPermissions = []string{"case:view"}
	s := Snapshot{
		Membership: m,
		Role:       &models.Role{Permissions: []string{"case:view"}},
		Grant:      grant(models.AccessManage, nil),
	}
	if Resolve(s, models.ResCase, uuid.Nil, models.ActionView, now) {
		t.Fatal("suspended membership should deny regardless of grants")
	}
}

// A dangling role reference resolves as having no role: grants and custom
// permissions still work, everything else denies.
func Test_Resolve_DanglingRole(t *testing.T) {
	m := activeMember()
	m.CustomPermissions = []string{"note:view"}
	s := Snapshot{Membership: m, Role: nil}
	now := time.Now()

	if Resolve(s, models.ResCase, uuid.Nil, models.ActionView, now) {
		t.Fatal("no role and no grant should deny")
	}
	if !Resolve(s, models.ResNote, uuid.Nil, models.ActionView, now) {
		t.Fatal("custom permissions should survive role deletion")
	}
}

// Default is deny: an untouched snapshot with an empty role allows nothing.
func Test_Resolve_DefaultDeny(t *testing.T) {
	s := Snapshot{Membership: activeMember(), Role: &models.Role{}}
	for _, res := range []models.ResourceType{models.ResCase, models.ResClient, models.ResFirm} {
		for _, a := range []models.Action{models.ActionView, models.ActionEdit, models.ActionManage} {
			if Resolve(s, res, uuid.Nil, a, time.Now()) {
				t.Fatalf("empty role should deny %s on %s", a, res)
			}
		}
	}
}

/* ============================================================================
   Key and level vocabulary
   ============================================================================ */

func Test_Key_Format(t *testing.T) {
	if got := Key(models.ResCase, models.ActionView); got != "case:view" {
		t.Fatalf("want case:view, got %q", got)
	}
	if got := Key(models.ResFirm, models.ActionManage); got != "firm:manage" {
		t.Fatalf("want firm:manage, got %q", got)
	}
}

func Test_AccessLevel_Ladder(t *testing.T) {
	cases := []struct {
		level models.AccessLevel
		act   models.Action
		want  bool
	}{
		{models.AccessNone, models.ActionView, false},
		{models.AccessView, models.ActionView, true},
		{models.AccessView, models.ActionEdit, false},
		{models.AccessEdit, models.ActionView, true},
		{models.AccessEdit, models.ActionEdit, true},
		{models.AccessEdit, models.ActionManage, false},
		{models.AccessManage, models.ActionManage, true},
		{models.AccessLevel("bogus"), models.ActionView, false},
	}
	for _, tc := range cases {
		if got := tc.level.Allows(tc.act); got != tc.want {
			t.Errorf("%s.Allows(%s) = %v, want %v", tc.level, tc.act, got, tc.want)
		}
	}
}
