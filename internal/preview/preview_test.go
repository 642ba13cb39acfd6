package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder plays instantly and logs what happened in order.
type recorder struct {
	mu     sync.Mutex
	events []string
	block  bool
}

func (r *recorder) log(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) play(ctx context.Context, item Item) error {
	r.log("play " + item.Voice)
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (r *recorder) plays() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if len(e) > 5 && e[:5] == "play " {
			n++
		}
	}
	return n
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitResult(t *testing.T, p *Previewer) Result {
	t.Helper()
	select {
	case res := <-p.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no preview result")
		return Result{}
	}
}

func TestDoubleActivationCollapse(t *testing.T) {
	tests := []struct {
		name      string
		gap       time.Duration
		secondIdx int
		wantPlays int
	}{
		{name: "repeat within window", gap: 300 * time.Millisecond, wantPlays: 1},
		{name: "repeat after window", gap: time.Second, wantPlays: 2},
		{name: "other position within window", gap: 300 * time.Millisecond, secondIdx: 1, wantPlays: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			rec := &recorder{}
			p := New(rec.play, WithClock(clock.Now))
			ctx := context.Background()

			if !p.Activate(ctx, Item{Index: 0, Voice: "a"}) {
				t.Fatal("first activation was dropped")
			}
			waitResult(t, p)

			clock.Advance(tt.gap)
			started := p.Activate(ctx, Item{Index: tt.secondIdx, Voice: "b"})
			if started != (tt.wantPlays == 2) {
				t.Errorf("second Activate = %v", started)
			}
			if started {
				waitResult(t, p)
			}
			p.Stop()

			if got := rec.plays(); got != tt.wantPlays {
				t.Errorf("plays = %d, want %d", got, tt.wantPlays)
			}
		})
	}
}

func TestNewPreviewStopsPrevious(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rec := &recorder{block: true}
	p := New(rec.play, WithClock(clock.Now), WithStopOutput(func() { rec.log("stop") }))
	ctx := context.Background()

	p.Activate(ctx, Item{Index: 0, Voice: "a"})
	deadline := time.Now().Add(2 * time.Second)
	for rec.plays() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.Active() {
		t.Fatal("first preview is not active")
	}

	clock.Advance(100 * time.Millisecond)
	p.Activate(ctx, Item{Index: 1, Voice: "b"})

	first := waitResult(t, p)
	if first.Item.Voice != "a" || !first.Canceled {
		t.Errorf("first result = %+v, want canceled preview of a", first)
	}

	deadline = time.Now().Add(2 * time.Second)
	for rec.plays() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()
	second := waitResult(t, p)
	if second.Item.Voice != "b" || !second.Canceled {
		t.Errorf("second result = %+v, want canceled preview of b", second)
	}

	// the second preview never overlaps the first
	events := rec.snapshot()
	ia, ib := indexOf(events, "play a"), indexOf(events, "play b")
	if ia < 0 || ib < 0 || ia > ib {
		t.Fatalf("events = %v", events)
	}
	if p.Active() {
		t.Error("preview still active after Stop")
	}
}

func TestSupersededBeforePlaying(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	release := make(chan struct{})
	var mu sync.Mutex
	var played []string
	play := func(_ context.Context, item Item) error {
		mu.Lock()
		played = append(played, item.Voice)
		mu.Unlock()
		// a ignores cancellation so b is still waiting when c arrives
		if item.Voice == "a" {
			<-release
		}
		return nil
	}
	p := New(play, WithClock(clock.Now))
	ctx := context.Background()

	p.Activate(ctx, Item{Index: 0, Voice: "a"})
	clock.Advance(time.Second)
	p.Activate(ctx, Item{Index: 1, Voice: "b"})
	clock.Advance(time.Second)
	p.Activate(ctx, Item{Index: 2, Voice: "c"})
	close(release)

	results := map[string]Result{}
	for range 3 {
		res := waitResult(t, p)
		results[res.Item.Voice] = res
	}
	if !results["b"].Canceled {
		t.Errorf("b should have been skipped: %+v", results["b"])
	}
	if results["c"].Canceled || results["c"].Err != nil {
		t.Errorf("c should have played: %+v", results["c"])
	}
	mu.Lock()
	defer mu.Unlock()
	for _, v := range played {
		if v == "b" {
			t.Error("superseded preview b was played")
		}
	}
}

func TestPollAndErrors(t *testing.T) {
	boom := errors.New("no such voice")
	p := New(func(context.Context, Item) error { return boom })

	if _, ok := p.Poll(); ok {
		t.Fatal("Poll returned a result before any activation")
	}
	p.Activate(context.Background(), Item{Index: 3, Voice: "x"})

	var (
		res Result
		ok  bool
	)
	deadline := time.Now().Add(2 * time.Second)
	for !ok && time.Now().Before(deadline) {
		res, ok = p.Poll()
		time.Sleep(5 * time.Millisecond)
	}
	if !ok {
		t.Fatal("Poll never returned the result")
	}
	if !errors.Is(res.Err, boom) || res.Canceled {
		t.Errorf("result = %+v, want play error", res)
	}
}

func indexOf(events []string, e string) int {
	for i, v := range events {
		if v == e {
			return i
		}
	}
	return -1
}
