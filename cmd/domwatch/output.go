package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/delaneyj/nodewatch/family"
	"github.com/delaneyj/nodewatch/tree"
	"github.com/delaneyj/nodewatch/watch"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/valyala/quicktemplate"
	"go.uber.org/zap"
)

type event struct {
	At      time.Duration
	Watcher string
	Kind    string
	Node    string
	Attr    string
	Value   string
}

type tally struct {
	created, removed, texts, attrs int64
}

// printer writes events as they happen and keeps the counts for the summary.
type printer struct {
	log   *zap.Logger
	w     io.Writer
	json  bool
	start time.Time

	tallies map[string]*tally
	order   []string

	// matches of the last path step grouped under the match of the first
	groups  *family.Family[tree.Node, tree.Node]
	handles map[tree.Node]family.Handle[tree.Node, tree.Node]
	peaks   map[string]int
}

func newPrinter(log *zap.Logger, w io.Writer, format string) (*printer, error) {
	p := &printer{
		log:     log,
		w:       w,
		start:   time.Now(),
		tallies: map[string]*tally{},
		handles: map[tree.Node]family.Handle[tree.Node, tree.Node]{},
		peaks:   map[string]int{},
	}
	switch format {
	case "text":
	case "json":
		p.json = true
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	p.groups = family.New(family.Params[tree.Node, tree.Node]{
		ParentAdded:   func(h family.Handle[tree.Node, tree.Node]) { p.handles[h.Parent] = h },
		ParentRemoved: func(h family.Handle[tree.Node, tree.Node]) { delete(p.handles, h.Parent) },
	})
	p.groups.OnChildAdded(func(parent, _ tree.Node) {
		name := tree.Describe(parent)
		p.peaks[name] = max(p.peaks[name], len(p.handles[parent].Children()))
	})
	return p, nil
}

func (p *printer) tally(w *watch.Watcher) *tally {
	t, ok := p.tallies[w.Name()]
	if !ok {
		t = &tally{}
		p.tallies[w.Name()] = t
		p.order = append(p.order, w.Name())
	}
	return t
}

// track registers the printing callbacks on the watcher of the last step.
func (p *printer) track(w *watch.Watcher, text bool, attrs []string) {
	t := p.tally(w)
	w.Lifecycle(
		func(n tree.Node) {
			t.created++
			p.emit(event{Watcher: w.Name(), Kind: "created", Node: tree.Describe(n)})
		},
		func(n tree.Node) {
			t.removed++
			p.emit(event{Watcher: w.Name(), Kind: "removed", Node: tree.Describe(n)})
		},
	)

	if text {
		w.Text(func(n tree.Node, v watch.Value) {
			t.texts++
			p.emit(event{Watcher: w.Name(), Kind: "text", Node: tree.Describe(n), Value: v.String()})
		})
	}
	for _, name := range attrs {
		w.Attr(name, func(n tree.Node, v watch.Value) {
			t.attrs++
			p.emit(event{Watcher: w.Name(), Kind: "attr", Node: tree.Describe(n), Attr: name, Value: v.String()})
		})
	}
}

// group counts the matches of last under each match of first.
func (p *printer) group(first, last *watch.Watcher) {
	first.Lifecycle(
		func(n tree.Node) { p.check(p.groups.AddParent(n)) },
		func(n tree.Node) { p.check(p.groups.RemoveParent(n)) },
	)
	last.Lifecycle(
		func(n tree.Node) {
			for a := n.Parent(); a != nil; a = a.Parent() {
				if h, ok := p.handles[a]; ok {
					p.check(h.AddChild(n))
					return
				}
			}
		},
		func(n tree.Node) {
			if parent, ok := p.groups.ParentOf(n); ok {
				p.check(p.handles[parent].RemoveChild(n))
			}
		},
	)
}

func (p *printer) check(err error) {
	if err != nil {
		p.log.Warn("grouping matches", zap.Error(err))
	}
}

func (p *printer) emit(e event) {
	e.At = time.Since(p.start)
	if !p.json {
		line := fmt.Sprintf("%8s  %-7s  %s  %s", e.At.Round(time.Millisecond), e.Kind, e.Watcher, e.Node)
		if e.Attr != "" {
			line += " [" + e.Attr + "]"
		}
		if e.Kind == "text" || e.Kind == "attr" {
			line += fmt.Sprintf(" %q", e.Value)
		}
		fmt.Fprintln(p.w, line)
		return
	}

	qw := quicktemplate.AcquireWriter(p.w)
	defer quicktemplate.ReleaseWriter(qw)
	writeEventJSON(qw.N(), e)
}

func writeEventJSON(qw *quicktemplate.QWriter, e event) {
	qw.S(`{"at_ms":`)
	qw.DL(e.At.Milliseconds())
	qw.S(`,"watcher":`)
	qw.Q(e.Watcher)
	qw.S(`,"kind":`)
	qw.Q(e.Kind)
	qw.S(`,"node":`)
	qw.Q(e.Node)
	if e.Attr != "" {
		qw.S(`,"attr":`)
		qw.Q(e.Attr)
	}
	if e.Kind == "text" || e.Kind == "attr" {
		qw.S(`,"value":`)
		qw.Q(e.Value)
	}
	qw.S("}\n")
}

func (p *printer) summary(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"watcher", "created", "removed", "text", "attr"})
	for _, name := range p.order {
		t := p.tallies[name]
		table.Append([]string{
			name,
			humanize.Comma(t.created),
			humanize.Comma(t.removed),
			humanize.Comma(t.texts),
			humanize.Comma(t.attrs),
		})
	}
	table.Render()

	if len(p.peaks) == 0 {
		return
	}
	groups := tablewriter.NewWriter(w)
	groups.SetHeader([]string{"group", "peak matches"})
	names := make([]string, 0, len(p.peaks))
	for name := range p.peaks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		groups.Append([]string{name, humanize.Comma(int64(p.peaks[name]))})
	}
	groups.Render()
}
