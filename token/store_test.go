package token

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

type countingSink struct {
	resolved atomic.Int32
	failed   atomic.Int32
}

func (c *countingSink) Complete(_ any, err error) {
	if err != nil {
		c.failed.Add(1)
		return
	}
	c.resolved.Add(1)
}

func TestStore_ExactlyOnceUnderConcurrentDuplicates(t *testing.T) {
	s := NewStore()

	for round := 0; round < 200; round++ {
		sink := &countingSink{}
		id := s.Create(sink)

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				var ok bool
				switch i % 3 {
				case 0:
					ok = s.Resolve(id, nil)
				case 1:
					ok = s.Fail(id, stderrors.New("boom"))
				default:
					ok = s.Release(id)
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if wins.Load() != 1 {
			t.Fatalf("round %d: %d transitions succeeded", round, wins.Load())
		}
		if n := sink.resolved.Load() + sink.failed.Load(); n > 1 {
			t.Fatalf("round %d: sink completed %d times", round, n)
		}
	}
	if s.Pending() != 0 {
		t.Fatalf("Pending = %d", s.Pending())
	}
}

func TestStore_UnknownAndStaleIDs(t *testing.T) {
	s := NewStore()
	if s.Resolve(0, nil) || s.Fail(12345, nil) || s.Release(99) {
		t.Fatal("unknown ids must be no-ops")
	}

	sink := &countingSink{}
	id := s.Create(sink)
	s.Resolve(id, nil)
	reused := s.Create(&countingSink{})

	if s.Resolve(id, nil) {
		t.Fatal("stale id resolved a reused slot")
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d", s.Pending())
	}
	s.Release(reused)
}

func TestStore_ProgressListener(t *testing.T) {
	s := NewStore()

	var got [][2]uint64
	id := s.Listen(func(transferred, transferable uint64) {
		got = append(got, [2]uint64{transferred, transferable})
	})

	s.Notify(id, 1, 10)
	s.Notify(id, 5, 10)
	s.Notify(id, 10, 10)

	if len(got) != 3 || got[2] != [2]uint64{10, 10} {
		t.Fatalf("updates = %v", got)
	}
	if s.Resolve(id, nil) {
		t.Fatal("a progress listener is not a completion token")
	}
	if !s.Release(id) {
		t.Fatal("Release failed")
	}
	if s.Notify(id, 11, 11) {
		t.Fatal("Notify after Release must be a no-op")
	}
	if s.Notify(s.Create(&countingSink{}), 1, 1) {
		t.Fatal("Notify on a completion token must be a no-op")
	}
}

func TestStore_Observers(t *testing.T) {
	s := NewStore()
	var events []EventType
	s.Subscribe(ObserverFunc(func(e Event) { events = append(events, e.Type) }))

	s.Resolve(s.Create(&countingSink{}), nil)
	s.Fail(s.Create(&countingSink{}), stderrors.New("x"))
	s.Release(s.Create(&countingSink{}))

	want := []EventType{
		EventCreated, EventResolved,
		EventCreated, EventFailed,
		EventCreated, EventReleased,
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestStore_CloseFailsPending(t *testing.T) {
	s := NewStore()
	f := NewFuture[native.ResultsHandle](s)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	_, err := f.Wait(context.Background())
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindClosed {
		t.Fatalf("Wait after Close = %v", err)
	}

	late := NewFuture[native.ResultsHandle](s)
	if late.ID() != 0 {
		t.Fatal("Create after Close must return 0")
	}
	if _, err := late.Wait(context.Background()); err == nil {
		t.Fatal("future on a closed store must fail")
	}
}

func TestFuture_Resolve(t *testing.T) {
	s := NewStore()
	f := NewFuture[native.ResultsHandle](s)

	go s.Resolve(f.ID(), native.ResultsHandle(77))

	v, err := f.Wait(context.Background())
	if err != nil || v != 77 {
		t.Fatalf("Wait = %v, %v", v, err)
	}
}

func TestFuture_ResolveWithNil(t *testing.T) {
	s := NewStore()
	f := NewFuture[struct{}](s)
	s.Resolve(f.ID(), nil)
	if _, err := f.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestFuture_WrongType(t *testing.T) {
	s := NewStore()
	f := NewFuture[native.ResultsHandle](s)
	s.Resolve(f.ID(), "not a handle")

	_, err := f.Wait(context.Background())
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidData {
		t.Fatalf("Wait = %v", err)
	}
}

func TestFuture_CancelReleasesToken(t *testing.T) {
	s := NewStore()
	f := NewFuture[struct{}](s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait = %v", err)
	}
	if s.Pending() != 0 {
		t.Fatal("cancelled wait must release its token")
	}
	if s.Resolve(f.ID(), nil) {
		t.Fatal("late completion after cancel must be a no-op")
	}
}

func TestFuture_Cancel(t *testing.T) {
	s := NewStore()
	f := NewFuture[struct{}](s)
	if !f.Cancel() {
		t.Fatal("Cancel failed")
	}
	if f.Cancel() {
		t.Fatal("second Cancel should report false")
	}
	if _, err := f.Wait(context.Background()); !stderrors.Is(err, context.Canceled) {
		t.Fatalf("Wait = %v", err)
	}
}

func TestFuture_ThenRunsOffCallerGoroutine(t *testing.T) {
	s := NewStore()
	f := NewFuture[native.ResultsHandle](s)

	release := make(chan struct{})
	got := make(chan native.ResultsHandle, 1)
	f.Then(func(v native.ResultsHandle, err error) {
		<-release
		got <- v
	})

	// Resolve must return even though the continuation is blocked.
	done := make(chan struct{})
	go func() {
		s.Resolve(f.ID(), native.ResultsHandle(3))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Resolve blocked on the continuation")
	}

	close(release)
	if v := <-got; v != 3 {
		t.Fatalf("continuation got %v", v)
	}
}
