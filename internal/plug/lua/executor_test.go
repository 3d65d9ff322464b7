package lua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	s := NewState()
	e := NewExecutor(s, 0)
	t.Cleanup(func() {
		e.Close()
		<-e.Done()
		s.Close()
	})
	return e
}

func TestExecutorExecute(t *testing.T) {
	e := newTestExecutor(t)

	var got string
	err := e.Execute(context.Background(), func(s *State) error {
		if err := s.Load(context.Background(), `function hi() return "hi" end`, "hi.lua"); err != nil {
			return err
		}
		results, err := s.Call(context.Background(), "hi")
		if err != nil {
			return err
		}
		got = results[0].String()
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got != "hi" {
		t.Errorf("result = %q, want %q", got, "hi")
	}
}

func TestExecutorSerializes(t *testing.T) {
	e := newTestExecutor(t)

	// Concurrent submitters must never overlap inside the state.
	var inside, maxInside int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Execute(context.Background(), func(*State) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent calls inside state = %d, want 1", maxInside)
	}
}

func TestExecutorExecuteAfterClose(t *testing.T) {
	s := NewState()
	e := NewExecutor(s, 0)
	e.Close()
	<-e.Done()
	s.Close()

	err := e.Execute(context.Background(), func(*State) error { return nil })
	if !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Execute() after close error = %v, want ErrExecutorClosed", err)
	}
}

func TestExecutorCloseResolvesQueued(t *testing.T) {
	s := NewState()
	e := NewExecutor(s, 8)

	if err := e.Execute(context.Background(), func(st *State) error {
		return st.Load(context.Background(), `function spin() while true do end end`, "spin.lua")
	}); err != nil {
		t.Fatalf("Execute(load) error = %v", err)
	}

	// Occupy the run loop, then close while a second call is queued.
	blockCtx, stopBlock := context.WithCancel(context.Background())
	blockStarted := make(chan struct{})
	blocking := make(chan error, 1)
	go func() {
		blocking <- e.Execute(context.Background(), func(st *State) error {
			close(blockStarted)
			_, err := st.Call(blockCtx, "spin")
			return err
		})
	}()
	<-blockStarted

	queued := make(chan error, 1)
	go func() {
		queued <- e.Execute(context.Background(), func(*State) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	e.Close()
	stopBlock()

	select {
	case err := <-queued:
		if !errors.Is(err, ErrExecutorClosed) {
			t.Errorf("queued call error = %v, want ErrExecutorClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued call never resolved after Close")
	}

	<-blocking
	<-e.Done()
	s.Close()
}

func TestExecutorExecuteContextCanceled(t *testing.T) {
	e := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Execute(ctx, func(*State) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() with canceled ctx error = %v, want context.Canceled", err)
	}
}

func TestExecutorPanicRecovered(t *testing.T) {
	e := newTestExecutor(t)

	err := e.Execute(context.Background(), func(*State) error {
		panic("boom")
	})
	if !errors.Is(err, ErrPanic) {
		t.Errorf("Execute() with panic error = %v, want ErrPanic", err)
	}

	// The run loop survives the panic.
	if err := e.Execute(context.Background(), func(*State) error { return nil }); err != nil {
		t.Errorf("Execute() after panic error = %v", err)
	}
}

func TestExecutorTryExecute(t *testing.T) {
	e := newTestExecutor(t)

	done := make(chan struct{})
	if err := e.TryExecute(func(s *State) error {
		defer close(done)
		s.SetGlobalFunc("mark", func(L *glua.LState) int { return 0 })
		return nil
	}); err != nil {
		t.Fatalf("TryExecute() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("TryExecute() call never ran")
	}
}
