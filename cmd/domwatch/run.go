package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/delaneyj/nodewatch/pattern"
	"github.com/delaneyj/nodewatch/tree"
	"github.com/delaneyj/nodewatch/watch"
	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd.Bool(verboseKey))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	anchorPattern, err := pattern.Parse(cmd.String(anchorKey))
	if err != nil {
		return fmt.Errorf("anchor: %w", err)
	}
	var steps []pattern.Pattern
	for _, s := range cmd.StringSlice(pathKey) {
		p, err := pattern.Parse(s)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		steps = append(steps, p)
	}

	var script *Script
	if path := cmd.String(scriptKey); path != "" {
		if script, err = LoadScript(path); err != nil {
			return err
		}
	}

	out, err := newPrinter(log, os.Stdout, cmd.String(formatKey))
	if err != nil {
		return err
	}

	page := cmd.String(htmlKey)
	loop := tree.NewLoop()
	doc, err := load(page, tree.WithLogger(log), tree.WithScheduler(loop))
	if err != nil {
		return err
	}
	anchors := pattern.SelfOrMatchingDescendants(doc.Root(), anchorPattern)
	if len(anchors) == 0 {
		return fmt.Errorf("anchor %s: %w", anchorPattern, errNoMatch)
	}
	anchor, ok := anchors[0].(*tree.Element)
	if !ok {
		return fmt.Errorf("anchor %s is not an element", anchorPattern)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := loop.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		err := onLoop(ctx, loop, func() error {
			root := watch.New(ctx, doc, anchor,
				watch.WithLogger(log),
				watch.WithName(anchorPattern.String()),
				watch.WithErrorHandler(func(w *watch.Watcher, err error) {
					log.Error("watcher callback", zap.String("watcher", w.Name()), zap.Error(err))
				}),
			)

			first := root.Descendant(steps[0])
			last := first
			for _, p := range steps[1:] {
				last = last.Descendant(p)
			}
			if cmd.Bool(visibleKey) {
				last = last.Visible()
			}
			if len(steps) > 1 {
				out.group(first, last)
			}
			out.track(last, cmd.Bool(textKey), cmd.StringSlice(attrKey))
			return nil
		})
		if err != nil {
			return err
		}

		if script != nil {
			if err := play(ctx, loop, doc, script); err != nil {
				return err
			}
		}
		// the flush queued behind the last mutation has run once this returns
		if err := onLoop(ctx, loop, func() error { return nil }); err != nil {
			return err
		}

		if !cmd.Bool(followKey) {
			cancel()
		}
		return nil
	})

	if cmd.Bool(followKey) {
		eg.Go(func() error {
			return follow(ctx, log, doc, page, anchorPattern, func(nodes []tree.Node) error {
				return onLoop(ctx, loop, func() error {
					return anchor.ReplaceChildren(nodes...)
				})
			})
		})
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	out.summary(os.Stderr)
	return nil
}

func load(path string, opts ...tree.Option) (*tree.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer f.Close()
	return tree.Parse(f, opts...)
}

// onLoop runs fn on the loop goroutine and waits for it.
func onLoop(ctx context.Context, loop *tree.Loop, fn func() error) error {
	done := make(chan error, 1)
	loop.Schedule(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// play applies the steps of s one at a time. Sleeps happen off the loop so
// deliveries keep flowing while the script waits.
func play(ctx context.Context, loop *tree.Loop, doc *tree.Document, s *Script) error {
	for i, step := range s.Steps {
		if d := step.Delay(); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		err := onLoop(ctx, loop, func() error {
			if step.Op == "flush" {
				doc.Flush()
				return nil
			}
			return step.Apply(doc)
		})
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.Op, err)
		}
	}
	return nil
}

// follow reparses the page every time it is written and hands the new
// content of the anchor to replace.
func follow(ctx context.Context, log *zap.Logger, doc *tree.Document, page string, anchor pattern.Pattern, replace func([]tree.Node) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch page: %w", err)
	}
	defer w.Close()

	// editors replace files on save, so the directory is what gets watched
	if err := w.Add(filepath.Dir(page)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(page), err)
	}
	name := filepath.Clean(page)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watching page", zap.Error(err))
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			src, err := os.ReadFile(page)
			if err != nil {
				log.Warn("reading page", zap.String("page", page), zap.Error(err))
				continue
			}
			nodes, err := doc.ParseFragment(string(src))
			if err != nil {
				log.Warn("parsing page", zap.String("page", page), zap.Error(err))
				continue
			}
			nodes = content(nodes, anchor)

			log.Info("reloading page", zap.String("page", page), zap.Int("nodes", len(nodes)))
			if err := replace(nodes); err != nil {
				return err
			}
		}
	}
}

// content returns the children of the first node matching anchor, or nodes
// when the fragment has no such node.
func content(nodes []tree.Node, anchor pattern.Pattern) []tree.Node {
	for _, n := range nodes {
		matches := pattern.SelfOrMatchingDescendants(n, anchor)
		if len(matches) == 0 {
			continue
		}
		if m, ok := matches[0].(*tree.Element); ok {
			return m.Children()
		}
	}
	return nodes
}
