package hook

import (
	"context"
	"errors"
	"testing"
)

func TestCommandHookRun(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["a.doIt"] = "done"

	h := NewCommandHook(inv, false, nil)
	h.Rebuild([]CommandDef{
		{Name: "Stuff: Do", Plug: "a", Generation: 1, Function: "doIt"},
	})

	res, err := h.Run(context.Background(), "Stuff: Do")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res != "done" {
		t.Errorf("Run() = %v, want %q", res, "done")
	}

	if _, err := h.Run(context.Background(), "No: Such"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Run(unknown) error = %v, want ErrCommandNotFound", err)
	}
}

func TestCommandHookNameCollisionLastWins(t *testing.T) {
	inv := newFakeInvoker()
	inv.results["early.f"] = "early"
	inv.results["late.f"] = "late"

	h := NewCommandHook(inv, false, nil)
	h.Rebuild([]CommandDef{
		{Name: "Dup", Plug: "early", Generation: 1, Function: "f"},
		{Name: "Dup", Plug: "late", Generation: 1, Function: "f"},
	})

	res, err := h.Run(context.Background(), "Dup")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res != "late" {
		t.Errorf("Run(Dup) = %v, want later definition to win", res)
	}
	if got := h.Names(); len(got) != 1 {
		t.Errorf("Names() = %v, want one entry", got)
	}
}

func TestCommandHookKeyPriority(t *testing.T) {
	defsAB := []CommandDef{
		{Name: "Low", Key: "ctrl+k", Priority: 1, Plug: "a", Generation: 1, Function: "f"},
		{Name: "High", Key: "ctrl+k", Priority: 5, Plug: "b", Generation: 1, Function: "f"},
	}
	defsBA := []CommandDef{defsAB[1], defsAB[0]}

	// The higher priority wins no matter which plug loaded first.
	for name, defs := range map[string][]CommandDef{"low first": defsAB, "high first": defsBA} {
		t.Run(name, func(t *testing.T) {
			h := NewCommandHook(newFakeInvoker(), false, nil)
			h.Rebuild(defs)
			def, ok := h.Lookup("ctrl+k")
			if !ok {
				t.Fatal("Lookup(ctrl+k) not found")
			}
			if def.Name != "High" {
				t.Errorf("Lookup(ctrl+k) = %q, want High", def.Name)
			}
		})
	}
}

func TestCommandHookKeyTieBreakByLoadOrder(t *testing.T) {
	h := NewCommandHook(newFakeInvoker(), false, nil)
	h.Rebuild([]CommandDef{
		{Name: "First", Key: "ctrl+j", Priority: 3, Plug: "a", Generation: 1, Function: "f"},
		{Name: "Second", Key: "ctrl+j", Priority: 3, Plug: "b", Generation: 1, Function: "f"},
	})
	def, ok := h.Lookup("ctrl+j")
	if !ok {
		t.Fatal("Lookup(ctrl+j) not found")
	}
	if def.Name != "First" {
		t.Errorf("Lookup(ctrl+j) = %q, want the earlier load", def.Name)
	}
}

func TestCommandHookLookupNormalizesSpec(t *testing.T) {
	h := NewCommandHook(newFakeInvoker(), false, nil)
	h.Rebuild([]CommandDef{
		{Name: "C", Key: "Ctrl-Shift-p", Plug: "a", Generation: 1, Function: "f"},
	})
	if _, ok := h.Lookup("shift+ctrl+P"); !ok {
		t.Error("Lookup() did not match an equivalent key spec")
	}
}

func TestCommandHookMacKeys(t *testing.T) {
	def := CommandDef{Name: "C", Key: "ctrl+o", Mac: "cmd+o", Plug: "a", Generation: 1, Function: "f"}

	std := NewCommandHook(newFakeInvoker(), false, nil)
	std.Rebuild([]CommandDef{def})
	if _, ok := std.Lookup("ctrl+o"); !ok {
		t.Error("default keymap did not bind ctrl+o")
	}

	mac := NewCommandHook(newFakeInvoker(), true, nil)
	mac.Rebuild([]CommandDef{def})
	if _, ok := mac.Lookup("cmd+o"); !ok {
		t.Error("mac keymap did not bind cmd+o")
	}
	if _, ok := mac.Lookup("ctrl+o"); ok {
		t.Error("mac keymap still binds ctrl+o")
	}
}

func TestCommandHookRebuildReplaces(t *testing.T) {
	h := NewCommandHook(newFakeInvoker(), false, nil)
	h.Rebuild([]CommandDef{
		{Name: "Old", Key: "ctrl+1", Plug: "a", Generation: 1, Function: "f"},
	})
	h.Rebuild([]CommandDef{
		{Name: "New", Key: "ctrl+2", Plug: "a", Generation: 2, Function: "f"},
	})

	if _, ok := h.Lookup("ctrl+1"); ok {
		t.Error("old keybinding survived rebuild")
	}
	if _, ok := h.Lookup("ctrl+2"); !ok {
		t.Error("new keybinding missing after rebuild")
	}
	if got := h.Names(); len(got) != 1 || got[0] != "New" {
		t.Errorf("Names() = %v, want [New]", got)
	}
}

func TestCommandHookInvalidKeybindingSkipped(t *testing.T) {
	h := NewCommandHook(newFakeInvoker(), false, nil)
	h.Rebuild([]CommandDef{
		{Name: "Broken", Key: "bogus+x", Plug: "a", Generation: 1, Function: "f"},
	})
	// The command stays runnable by name even though its key is unusable.
	if got := h.Names(); len(got) != 1 {
		t.Errorf("Names() = %v, want the command present", got)
	}
	if _, ok := h.Lookup("bogus+x"); ok {
		t.Error("Lookup() matched an invalid spec")
	}
}
