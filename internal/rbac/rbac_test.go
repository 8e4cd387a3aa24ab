package rbac

import "testing"

func TestCan(t *testing.T) {
	if !Can(RolePublisher, ActionRollback) {
		t.Fatal("publisher should be able to roll back")
	}
	if Can(RoleReader, ActionPublish) {
		t.Fatal("reader should not be able to publish")
	}
	if !Can(RoleReader, ActionRead) {
		t.Fatal("reader should be able to read")
	}
	if Can(Role("ghost"), ActionRead) {
		t.Fatal("unknown role should not be able to read")
	}
}

func TestMutating(t *testing.T) {
	for _, action := range []Action{ActionPublish, ActionRollback, ActionSchedule} {
		if !action.Mutating() {
			t.Fatalf("%s should be mutating", action)
		}
	}
	if ActionRead.Mutating() {
		t.Fatal("read should not be mutating")
	}
}
