package security

import "testing"

func TestScopeAllowsDominance(t *testing.T) {
	s, err := ParseScope("write:/lights/**")
	if err != nil {
		t.Fatal(err)
	}
	if !s.Allows(ActionRead, "/lights/room1") {
		t.Fatal("write should dominate read")
	}
	if !s.Allows(ActionWrite, "/lights/room1") {
		t.Fatal("write should allow write")
	}
	if s.Allows(ActionAdmin, "/lights/room1") {
		t.Fatal("write should not dominate admin")
	}
	if s.Allows(ActionRead, "/audio/room1") {
		t.Fatal("pattern must not match unrelated address")
	}
}

func TestScopeAllowsAdminDominatesAll(t *testing.T) {
	s, err := ParseScope("admin:/**")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []Action{ActionRead, ActionWrite, ActionAdmin} {
		if !s.Allows(a, "/anything/at/all") {
			t.Fatalf("admin should dominate %s", a)
		}
	}
}

func TestStrictReadRejectsNonReadScopes(t *testing.T) {
	// spec §8 end-to-end scenario 3.
	s, err := ParseScope("write:/user/*/dms/*")
	if err != nil {
		t.Fatal(err)
	}
	if s.AllowsStrictRead("/user/bob/dms/m1") {
		t.Fatal("write scope must not grant strict-read subscription access")
	}
	if !s.Allows(ActionWrite, "/user/bob/dms/m1") {
		t.Fatal("the same scope must still allow the write it was granted for")
	}

	readScope, err := ParseScope("read:/user/*/dms/*")
	if err != nil {
		t.Fatal(err)
	}
	if !readScope.AllowsStrictRead("/user/bob/dms/m1") {
		t.Fatal("a read scope must pass strict-read")
	}
}

func TestScopeSetAllows(t *testing.T) {
	set, err := ParseScopeSet([]string{"read:/a/**", "write:/b/**"})
	if err != nil {
		t.Fatal(err)
	}
	if !set.Allows(ActionRead, "/a/x") {
		t.Fatal("expected read scope to match /a/x")
	}
	if !set.Allows(ActionWrite, "/b/x") {
		t.Fatal("expected write scope to match /b/x")
	}
	if set.Allows(ActionWrite, "/a/x") {
		t.Fatal("read-only scope must not allow write")
	}
}

func TestParseScopeRejectsMalformed(t *testing.T) {
	if _, err := ParseScope("nope"); err == nil {
		t.Fatal("expected error for missing separator")
	}
	if _, err := ParseScope("superadmin:/a"); err == nil {
		t.Fatal("expected error for unknown action")
	}
	if _, err := ParseScope("read:"); err == nil {
		t.Fatal("expected error for empty pattern")
	}
}
