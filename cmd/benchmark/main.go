package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/delaneyj/nodewatch/pattern"
	"github.com/delaneyj/nodewatch/tree"
	"github.com/delaneyj/nodewatch/watch"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	ww    = []int{1, 10, 100}
	hh    = []int{1, 10, 100}
	iters = flag.Int("iters", 100, "iterations per benchmark")
	pgo   = flag.String("cpuprofile", "", "write a CPU profile to this file")
)

func main() {
	flag.Parse()

	if *pgo != "" {
		f, err := os.Create(*pgo)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	log.Printf("warming up")
	benchmarkConnect(false)
	benchmarkChurn(false)

	benchmarkConnect(true)
	benchmarkChurn(true)
	benchmarkAttributes(true)
}

func newTable(title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetTitle(title)
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})
	return tbl
}

func appendCalc(tbl table.Writer, name string, tach *tachymeter.Tachymeter) {
	calc := tach.Calc()
	tbl.AppendRows([]table.Row{
		{
			name,
			calc.Time.Avg,
			calc.Time.Min,
			calc.Time.P75,
			calc.Time.P99,
			calc.Time.Max,
		},
	})
}

// page returns w sections holding h items each.
func page(doc *tree.Document, w, h int) *tree.Element {
	var sb strings.Builder
	sb.WriteString(`<main id="app">`)
	for range w {
		sb.WriteString(`<section class="list">`)
		for j := range h {
			fmt.Fprintf(&sb, `<div class="item" data-n="%d">item %d</div>`, j, j)
		}
		sb.WriteString(`</section>`)
	}
	sb.WriteString(`</main>`)
	app := doc.MustFragment(sb.String())
	if err := doc.Root().AppendChild(app); err != nil {
		log.Fatal(err)
	}
	return app
}

func path(r *watch.Root) *watch.Watcher {
	return r.Descendant(pattern.ByClass("list")).Descendant(pattern.ByClass("item"))
}

// benchmarkConnect measures connecting a two step path to every item of
// an existing page.
func benchmarkConnect(shouldRender bool) {
	tbl := newTable("Connect")

	for _, w := range ww {
		for _, h := range hh {
			tach := tachymeter.New(&tachymeter.Config{Size: *iters})
			doc := tree.NewDocument()
			app := page(doc, w, h)

			for range *iters {
				created := 0
				start := time.Now()
				r := watch.New(context.Background(), doc, app, watch.WithVisibilityInterval(0))
				path(r).Lifecycle(func(tree.Node) { created++ }, nil)
				tach.AddTime(time.Since(start))
				r.Close()
				doc.Flush()

				if created != w*h {
					log.Panicf("connected %d of %d items", created, w*h)
				}
			}
			appendCalc(tbl, fmt.Sprintf("connect: %d * %d", w, h), tach)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}

// benchmarkChurn measures one flush delivering h added items to each of w
// sections, then one flush delivering their removal.
func benchmarkChurn(shouldRender bool) {
	tbl := newTable("Churn")

	for _, w := range ww {
		for _, h := range hh {
			add := tachymeter.New(&tachymeter.Config{Size: *iters})
			remove := tachymeter.New(&tachymeter.Config{Size: *iters})
			doc := tree.NewDocument()
			app := page(doc, w, 0)
			sections := app.Children()

			r := watch.New(context.Background(), doc, app, watch.WithVisibilityInterval(0))
			live := 0
			path(r).Lifecycle(func(tree.Node) { live++ }, func(tree.Node) { live-- })

			for range *iters {
				var added []*tree.Element
				for _, s := range sections {
					for range h {
						item := doc.CreateElement("div")
						item.AddClass("item")
						if err := s.(*tree.Element).AppendChild(item); err != nil {
							log.Fatal(err)
						}
						added = append(added, item)
					}
				}
				start := time.Now()
				doc.Flush()
				add.AddTime(time.Since(start))
				if live != w*h {
					log.Panicf("%d of %d items live", live, w*h)
				}

				for _, item := range added {
					item.Remove()
				}
				start = time.Now()
				doc.Flush()
				remove.AddTime(time.Since(start))
				if live != 0 {
					log.Panicf("%d items still live", live)
				}
			}
			r.Close()

			appendCalc(tbl, fmt.Sprintf("add: %d * %d", w, h), add)
			appendCalc(tbl, fmt.Sprintf("remove: %d * %d", w, h), remove)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}

// benchmarkAttributes measures delivering one attribute change to every
// item, each with its own value stream.
func benchmarkAttributes(shouldRender bool) {
	tbl := newTable("Attributes")

	for _, w := range ww {
		for _, h := range hh {
			tach := tachymeter.New(&tachymeter.Config{Size: *iters})
			doc := tree.NewDocument()
			app := page(doc, w, h)

			r := watch.New(context.Background(), doc, app, watch.WithVisibilityInterval(0))
			changes := 0
			path(r).Attr("data-n", func(tree.Node, watch.Value) { changes++ })
			items := pattern.MatchingDescendants(app, pattern.ByClass("item"))

			for i := range *iters {
				changes = 0
				for _, item := range items {
					item.(*tree.Element).SetAttr("data-n", fmt.Sprint(i))
				}
				start := time.Now()
				doc.Flush()
				tach.AddTime(time.Since(start))
				if changes != w*h {
					log.Panicf("%d of %d changes delivered", changes, w*h)
				}
			}
			r.Close()

			appendCalc(tbl, fmt.Sprintf("attr: %d * %d", w, h), tach)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}
