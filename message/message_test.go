package message

import "testing"

func TestJobRequestValidateRequiresAction(t *testing.T) {
	jr := JobRequest{}
	if err := jr.Validate(); err == nil {
		t.Fatal("expect error for zero-action job request")
	}

	jr.Actions = []ActionRequest{{Action: ""}}
	if err := jr.Validate(); err == nil {
		t.Fatal("expect error for empty action name")
	}

	jr.Actions = []ActionRequest{{Action: "square"}}
	if err := jr.Validate(); err != nil {
		t.Fatalf("expect valid job request, got %v", err)
	}
}

func TestContextSwitchesAreSetSemantics(t *testing.T) {
	ctx := Context{}
	ctx = ctx.WithSwitch(1)
	ctx = ctx.WithSwitch(2)
	ctx = ctx.WithSwitch(1)

	if len(ctx.Switches) != 2 {
		t.Fatalf("expect 2 unique switches, got %v", ctx.Switches)
	}
	if !ctx.HasSwitch(1) || !ctx.HasSwitch(2) {
		t.Fatalf("expect switches 1 and 2 present, got %v", ctx.Switches)
	}
}

func TestContextUnionSwitchesDedupes(t *testing.T) {
	ctx := Context{Switches: []int{1, 2}}
	union := ctx.UnionSwitches([]int{2, 3})
	if len(union) != 3 {
		t.Fatalf("expect 3 unique switches, got %v", union)
	}
}

func TestErrorStringIncludesField(t *testing.T) {
	e := Error{Code: "INVALID", Message: "bad input", Field: "number"}
	got := e.Error()
	if got != "INVALID: bad input (field=number)" {
		t.Fatalf("unexpected error string: %s", got)
	}
}
