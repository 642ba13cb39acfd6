// Package preview runs voice previews in the background for interactive
// callers. One preview is current at a time; a new one stops the previous
// output before it plays, and a quick repeat of the same activation is
// collapsed into the one already playing.
package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// CollapseWindow is how close two activations of the same item must be to
// count as one.
const CollapseWindow = 800 * time.Millisecond

const resultBuffer = 16

// Item is one previewable entry. Index is its position in the caller's list.
type Item struct {
	Index    int
	Provider string
	Voice    string
	Text     string
}

// Result reports a finished preview.
type Result struct {
	Item     Item
	Err      error
	Canceled bool
	Took     time.Duration
}

// PlayFunc synthesizes and plays an item, returning when playback ends or
// ctx is canceled.
type PlayFunc func(ctx context.Context, item Item) error

// Option configures a Previewer.
type Option func(*Previewer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Previewer) { p.now = now }
}

// WithWindow replaces CollapseWindow.
func WithWindow(d time.Duration) Option {
	return func(p *Previewer) { p.window = d }
}

// WithStopOutput sets the function that terminates the running output
// process, usually the audio sink's active handle.
func WithStopOutput(stop func()) Option {
	return func(p *Previewer) { p.stopOutput = stop }
}

// Previewer owns the current preview task.
type Previewer struct {
	play       PlayFunc
	stopOutput func()
	now        func() time.Time
	window     time.Duration
	results    chan Result

	mu        sync.Mutex
	current   *task
	last      Item
	lastAt    time.Time
	activated bool
}

type task struct {
	item   Item
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Previewer that plays items with play.
func New(play PlayFunc, opts ...Option) *Previewer {
	p := &Previewer{
		play:       play,
		stopOutput: func() {},
		now:        time.Now,
		window:     CollapseWindow,
		results:    make(chan Result, resultBuffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Activate starts a preview of item and reports whether it did. An
// activation for the same position within the collapse window is dropped.
// Activate never blocks on audio.
func (p *Previewer) Activate(ctx context.Context, item Item) bool {
	now := p.now()

	p.mu.Lock()
	if p.activated && item.Index == p.last.Index && now.Sub(p.lastAt) < p.window {
		p.mu.Unlock()
		log.Debug("collapsed repeat preview activation", "index", item.Index, "since", now.Sub(p.lastAt))
		return false
	}
	p.last, p.lastAt, p.activated = item, now, true

	prev := p.current
	ctx, cancel := context.WithCancel(ctx)
	t := &task{item: item, cancel: cancel, done: make(chan struct{})}
	p.current = t
	p.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	go p.run(ctx, t, prev)
	return true
}

func (p *Previewer) run(ctx context.Context, t *task, prev *task) {
	defer close(t.done)
	defer t.cancel()

	if prev != nil {
		select {
		case <-prev.done:
		default:
			p.stopOutput()
			<-prev.done
		}
	}

	res := Result{Item: t.item}
	if ctx.Err() != nil {
		res.Canceled = true
		p.report(res)
		return
	}

	start := p.now()
	log.Debug("preview started", "index", t.item.Index, "voice", t.item.Voice)
	err := p.play(ctx, t.item)
	res.Took = p.now().Sub(start)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		res.Canceled = true
	} else {
		res.Err = err
	}
	p.report(res)
}

func (p *Previewer) report(res Result) {
	select {
	case p.results <- res:
	default:
		log.Warn("dropping preview result, nobody is polling", "index", res.Item.Index)
	}
}

// Poll returns a finished preview without blocking.
func (p *Previewer) Poll() (Result, bool) {
	select {
	case res := <-p.results:
		return res, true
	default:
		return Result{}, false
	}
}

// Results exposes completions for callers that prefer to wait.
func (p *Previewer) Results() <-chan Result {
	return p.results
}

// Active reports whether a preview is running.
func (p *Previewer) Active() bool {
	p.mu.Lock()
	t := p.current
	p.mu.Unlock()
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Stop cancels the current preview, terminates its output and waits for it
// to finish.
func (p *Previewer) Stop() {
	p.mu.Lock()
	t := p.current
	p.current = nil
	p.activated = false
	p.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	select {
	case <-t.done:
		return
	default:
	}
	p.stopOutput()
	<-t.done
}
