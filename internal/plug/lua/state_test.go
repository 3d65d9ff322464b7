package lua

import (
	"context"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func TestStateLoadAndCall(t *testing.T) {
	s := NewState()
	defer s.Close()

	code := `
function greet(name)
  return "hello " .. name
end
`
	if err := s.Load(context.Background(), code, "test.lua"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !s.HasFunction("greet") {
		t.Fatal("HasFunction(greet) = false after Load")
	}

	results, err := s.Call(context.Background(), "greet", glua.LString("world"))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Call() returned %d values, want 1", len(results))
	}
	if got := results[0].String(); got != "hello world" {
		t.Errorf("greet() = %q, want %q", got, "hello world")
	}
}

func TestStateCallUnknownFunction(t *testing.T) {
	s := NewState()
	defer s.Close()

	if _, err := s.Call(context.Background(), "missing"); err == nil {
		t.Error("Call(missing) expected error, got nil")
	}
}

func TestStateLoadSyntaxError(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.Load(context.Background(), "function broken(", "bad.lua"); err == nil {
		t.Error("Load() with syntax error expected error, got nil")
	}
}

func TestStateCallLuaError(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.Load(context.Background(), `function boom() error("kaput") end`, "boom.lua"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := s.Call(context.Background(), "boom"); err == nil {
		t.Error("Call(boom) expected error, got nil")
	}
}

func TestStateSandboxRemovesEscapes(t *testing.T) {
	s := NewState()
	defer s.Close()

	code := `
function probe()
  local blocked = {"dofile", "loadfile", "load", "loadstring", "require"}
  for _, name in ipairs(blocked) do
    if _G[name] ~= nil then
      return name
    end
  end
  if io ~= nil then return "io" end
  if os ~= nil then return "os" end
  if debug ~= nil then return "debug" end
  return ""
end
`
	if err := s.Load(context.Background(), code, "probe.lua"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	results, err := s.Call(context.Background(), "probe")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := results[0].String(); got != "" {
		t.Errorf("sandbox leaks global %q", got)
	}
}

func TestStateCallContextTimeout(t *testing.T) {
	s := NewState()
	defer s.Close()

	if err := s.Load(context.Background(), `function spin() while true do end end`, "spin.lua"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Call(ctx, "spin")
	if err == nil {
		t.Fatal("Call(spin) expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Call(spin) took %v, want prompt abort", elapsed)
	}
}

func TestStateLoadContextTimeout(t *testing.T) {
	s := NewState()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Load(ctx, `while true do end`, "toploop.lua")
	if err == nil {
		t.Fatal("Load() of a top-level infinite loop expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Load() took %v, want prompt abort", elapsed)
	}
}

func TestStateSetGlobalFunc(t *testing.T) {
	s := NewState()
	defer s.Close()

	s.SetGlobalFunc("double", func(L *glua.LState) int {
		n := L.CheckNumber(1)
		L.Push(glua.LNumber(n * 2))
		return 1
	})
	if err := s.Load(context.Background(), `function use() return double(21) end`, "use.lua"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	results, err := s.Call(context.Background(), "use")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got := float64(results[0].(glua.LNumber)); got != 42 {
		t.Errorf("use() = %v, want 42", got)
	}
}

func TestStateClosedOperations(t *testing.T) {
	s := NewState()
	s.Close()
	s.Close() // second close is safe

	if err := s.Load(context.Background(), "x = 1", "late.lua"); err != ErrStateClosed {
		t.Errorf("Load() after close error = %v, want ErrStateClosed", err)
	}
	if _, err := s.Call(context.Background(), "f"); err != ErrStateClosed {
		t.Errorf("Call() after close error = %v, want ErrStateClosed", err)
	}
	if s.HasFunction("f") {
		t.Error("HasFunction() after close = true, want false")
	}
}
