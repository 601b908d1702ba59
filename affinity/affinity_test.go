package affinity

import (
	"sync"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestAcquireRelease(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if _, ok := Current(); ok {
		t.Fatal("fresh goroutine should have no engine access")
	}

	scope := Acquire(L)
	got, ok := Current()
	if !ok || got != L {
		t.Fatalf("Current() = %v, %v; want installed state", got, ok)
	}
	if !Owned() || !Is(L) {
		t.Fatal("Owned/Is should report access inside the scope")
	}

	scope.Release()
	if _, ok := Current(); ok {
		t.Fatal("Release should clear the outermost scope")
	}

	// Second release is a no-op
	scope.Release()
	if Owned() {
		t.Fatal("double release must not install anything")
	}
}

func TestNestedScopesRestorePrevious(t *testing.T) {
	outer := lua.NewState()
	defer outer.Close()
	inner := lua.NewState()
	defer inner.Close()

	s1 := Acquire(outer)
	s2 := Acquire(inner)
	if !Is(inner) {
		t.Fatal("inner scope should be current")
	}
	s2.Release()
	if !Is(outer) {
		t.Fatal("releasing inner scope should restore outer state")
	}
	s1.Release()
	if Owned() {
		t.Fatal("all scopes released")
	}
}

func TestReleaseOnPanicPath(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	func() {
		defer func() { _ = recover() }()
		scope := Acquire(L)
		defer scope.Release()
		panic("callback failed")
	}()

	if Owned() {
		t.Fatal("scope must be released on the panic path")
	}
}

func TestCellsArePerGoroutine(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	scope := Acquire(L)
	defer scope.Release()

	var wg sync.WaitGroup
	seen := make([]bool, 8)
	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, seen[i] = Current()
		}(i)
	}
	wg.Wait()

	for i, ok := range seen {
		if ok {
			t.Errorf("worker %d observed the owner's engine state", i)
		}
	}
}

func TestGoroutineIDDistinct(t *testing.T) {
	main := goroutineID()
	ch := make(chan uint64)
	go func() { ch <- goroutineID() }()
	other := <-ch
	if main == 0 || other == 0 || main == other {
		t.Fatalf("goroutine ids main=%d other=%d", main, other)
	}
}

func TestSharesCoroutineState(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	co, _ := L.NewThread()
	other := lua.NewState()
	defer other.Close()

	tests := []struct {
		name    string
		current *lua.LState
		owner   *lua.LState
		want    bool
	}{
		{"same state", L, L, true},
		{"coroutine of owner", co, L, true},
		{"owner from coroutine", L, co, true},
		{"unrelated state", other, L, false},
		{"nil owner", L, nil, false},
		{"no access", nil, L, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.current != nil {
				scope := Acquire(tt.current)
				defer scope.Release()
			}
			if got := Shares(tt.owner); got != tt.want {
				t.Fatalf("Shares() = %v, want %v", got, tt.want)
			}
		})
	}
}
