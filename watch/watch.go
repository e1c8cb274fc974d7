// Package watch observes the lifecycle of nodes selected by a path of
// patterns in a continuously mutated tree.
//
// A Root is bound to an anchor node. Chaining Descendant (or ID, Class, Tag)
// declares a path; every node that satisfies the full path gets its own
// connection, with lifecycle callbacks, text and attribute value streams and
// an optional visibility gate. All callbacks run on the goroutine delivering
// the source's notifications, one batch at a time. A Root and its watchers
// must only be used from that goroutine.
package watch

import (
	"context"
	"errors"
	"time"

	"github.com/delaneyj/nodewatch/tree"
	"go.uber.org/zap"
)

var (
	ErrCallbackPanicked = errors.New("watch: callback panicked")
	ErrNotConnected     = errors.New("watch: watcher is not connected")
)

// DefaultVisibilityInterval is how often visibility gates re-check their node
// in case a stylesheet edit changed it without touching any attribute.
const DefaultVisibilityInterval = 10 * time.Second

// Source delivers the notifications watchers react to. *tree.Document
// implements it.
type Source interface {
	Observe(target tree.Node, opts tree.ObserveOptions, fn func([]tree.Record)) tree.Subscription
	ObserveIntersection(target, root tree.Node, fn func(bool)) tree.Subscription
	Intersects(target, root tree.Node) bool
	Every(interval time.Duration, fn func()) tree.Subscription
	Post(fn func())
}

// ErrorHandler receives every recovered callback failure, wrapped in
// ErrCallbackPanicked.
type ErrorHandler func(w *Watcher, err error)

type Option func(*Root)

func WithLogger(logger *zap.Logger) Option {
	return func(r *Root) {
		if logger != nil {
			r.log = logger.Named("watch")
		}
	}
}

func WithErrorHandler(h ErrorHandler) Option {
	return func(r *Root) { r.onError = h }
}

// WithVisibilityInterval sets the periodic visibility re-check. Zero
// disables it, leaving stylesheet driven visibility changes unnoticed until
// the next style or class mutation.
func WithVisibilityInterval(d time.Duration) Option {
	return func(r *Root) { r.interval = d }
}

// WithName sets the name of the root watcher. Descendant names are derived
// from it and show up in logs.
func WithName(name string) Option {
	return func(r *Root) { r.name = name }
}

// Root is the watcher bound to a fixed anchor node.
type Root struct {
	*Watcher

	src      Source
	anchor   tree.Node
	log      *zap.Logger
	onError  ErrorHandler
	interval time.Duration
	name     string

	top    *instance
	stop   func() bool
	closed bool
}

// New connects a root watcher to anchor. When ctx is done the whole watcher
// tree is closed on the delivery goroutine.
func New(ctx context.Context, src Source, anchor tree.Node, opts ...Option) *Root {
	r := &Root{
		src:      src,
		anchor:   anchor,
		log:      zap.NewNop(),
		interval: DefaultVisibilityInterval,
		name:     "root",
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Watcher = r.newWatcher(r.name, nil)
	r.top = newInstance(r.Watcher)
	r.top.connect(anchor, nil)
	r.stop = context.AfterFunc(ctx, func() { src.Post(r.Close) })
	return r
}

// Anchor returns the node the root is bound to.
func (r *Root) Anchor() tree.Node {
	return r.anchor
}

// Close disconnects every watcher, running removal callbacks and teardowns
// and cancelling every subscription. Closing twice is a no-op.
func (r *Root) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.stop()
	r.top.disconnect()
}
