package watch_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/delaneyj/nodewatch/pattern"
	"github.com/delaneyj/nodewatch/tree"
	"github.com/delaneyj/nodewatch/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recorder struct {
	log []string
}

func (r *recorder) add(format string, args ...any) {
	r.log = append(r.log, fmt.Sprintf(format, args...))
}

func (r *recorder) lifecycle(name string) (func(tree.Node), func(tree.Node)) {
	return func(n tree.Node) { r.add("+%s %s", name, tree.Describe(n)) },
		func(n tree.Node) { r.add("-%s %s", name, tree.Describe(n)) }
}

func (r *recorder) value(name string) watch.ValueFunc {
	return func(n tree.Node, v watch.Value) { r.add("%s %s=%s", name, tree.Describe(n), v) }
}

func (r *recorder) take() []string {
	log := r.log
	r.log = nil
	return log
}

func setup(t *testing.T, html string, opts ...watch.Option) (*tree.Document, *tree.Element, *watch.Root) {
	t.Helper()
	doc := tree.NewDocument()
	body := doc.MustFragment(html)
	require.NoError(t, doc.Root().AppendChild(body))

	opts = append([]watch.Option{watch.WithVisibilityInterval(0)}, opts...)
	root := watch.New(context.Background(), doc, body, opts...)
	t.Cleanup(root.Close)
	return doc, body, root
}

func find(t *testing.T, root tree.Node, selector string) *tree.Element {
	t.Helper()
	p, err := pattern.Parse(selector)
	require.NoError(t, err)
	found := pattern.SelfOrMatchingDescendants(root, p)
	require.NotEmpty(t, found, selector)
	return found[0].(*tree.Element)
}

func TestExistingMatches(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><p id="a" class="foo"></p><p id="b" class="foo"></p></div>`)

	var rec recorder
	foo := root.Class("foo").Lifecycle(rec.lifecycle("foo"))
	assert.Equal(t, []string{"+foo p#a.foo", "+foo p#b.foo"}, rec.take())

	find(t, body, "#a").Remove()
	doc.Flush()
	assert.Equal(t, []string{"-foo p#a.foo"}, rec.take())
	assert.Equal(t, []tree.Node{find(t, body, "#b")}, foo.Nodes())
}

func TestNestedPathConnectsInOneBatch(t *testing.T) {
	//  body
	//   └─ div.dialog   (added)
	//       └─ span
	//           └─ button
	doc, body, root := setup(t, `<div id="body"></div>`)

	var rec recorder
	root.Class("dialog").Lifecycle(rec.lifecycle("dialog")).
		Tag("button").Lifecycle(rec.lifecycle("button"))

	dialog := doc.MustFragment(`<div class="dialog"><span><button>OK</button></span></div>`)
	require.NoError(t, body.AppendChild(dialog))
	assert.Empty(t, rec.log, "nothing happens before the batch is delivered")

	doc.Flush()
	assert.Equal(t, []string{"+dialog div.dialog", "+button button"}, rec.take())

	dialog.Remove()
	doc.Flush()
	assert.Equal(t, []string{"-button button", "-dialog div.dialog"}, rec.take())
}

func TestDisconnectIsDepthFirst(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><div class="a"><div class="b">x<div class="c"></div></div></div></div>`)

	var rec recorder
	a := root.Class("a").Scope(func(tree.Node) func() {
		return func() { rec.add("-a") }
	})
	b := a.Class("b").
		Text(rec.value("text")).
		Lifecycle(nil, func(tree.Node) { rec.add("-b") })
	b.Class("c").Lifecycle(nil, func(tree.Node) { rec.add("-c") })
	assert.Equal(t, []string{"text div.b=x"}, rec.take())

	find(t, body, ".a").Remove()
	doc.Flush()
	assert.Equal(t, []string{"-c", "text div.b=<gone>", "-b", "-a"}, rec.take())
}

func TestLateRegistrationReceivesCurrentValue(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><p id="p" title="hello">hi</p></div>`)

	t.Run("text", func(t *testing.T) {
		var early, late []watch.Value
		p := root.ID("p")
		p.Text(func(_ tree.Node, v watch.Value) { early = append(early, v) })
		p.Text(func(_ tree.Node, v watch.Value) { late = append(late, v) })
		assert.Equal(t, []watch.Value{{Kind: watch.Present, Data: "hi"}}, late)
		assert.Equal(t, early, late)
	})

	t.Run("attribute before the node exists", func(t *testing.T) {
		var early, late []watch.Value
		q := root.ID("q").Attr("title", func(_ tree.Node, v watch.Value) { early = append(early, v) })
		assert.Empty(t, early)

		require.NoError(t, body.AppendChild(doc.MustFragment(`<p id="q" title="there"></p>`)))
		doc.Flush()
		q.Attr("TITLE", func(_ tree.Node, v watch.Value) { late = append(late, v) })
		assert.Equal(t, []watch.Value{{Kind: watch.Present, Data: "there"}}, early)
		assert.Equal(t, early, late)
	})
}

func TestAttributeStream(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><button aria-hidden="true">x</button></div>`)

	var got []watch.Value
	root.Tag("button").Attr("aria-hidden", func(_ tree.Node, v watch.Value) { got = append(got, v) })
	button := find(t, body, "button")

	button.RemoveAttr("aria-hidden")
	doc.Flush()
	button.Remove()
	doc.Flush()
	button.SetAttr("aria-hidden", "false")
	doc.Flush()

	assert.Equal(t, []watch.Value{
		{Kind: watch.Present, Data: "true"},
		{Kind: watch.Absent},
		{Kind: watch.Gone},
	}, got)
}

func TestTextStream(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><span class="countdown">5</span></div>`)

	var rec recorder
	root.Class("countdown").Text(rec.value("text"))
	span := find(t, body, ".countdown")

	span.Children()[0].(*tree.Text).SetData("4")
	doc.Flush()
	require.NoError(t, span.ReplaceChildren(doc.MustFragment(`<b>Skip</b>`)))
	doc.Flush()
	span.SetAttr("title", "no text change")
	doc.Flush()

	assert.Equal(t, []string{
		"text span.countdown=5",
		"text span.countdown=4",
		"text span.countdown=Skip",
	}, rec.take())
}

func TestCloseTwice(t *testing.T) {
	_, _, root := setup(t, `<div id="body">x</div>`)

	var rec recorder
	root.Text(rec.value("text")).Lifecycle(rec.lifecycle("root"))
	root.Close()
	root.Close()

	assert.Equal(t, []string{
		"text div#body=x",
		"+root div#body",
		"text div#body=<gone>",
		"-root div#body",
	}, rec.take())
	assert.False(t, root.Connected())
}

func TestCallbackPanicsAreIsolated(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	var handled []error
	doc, body, root := setup(t, `<div id="body"></div>`,
		watch.WithLogger(zap.New(core)),
		watch.WithErrorHandler(func(w *watch.Watcher, err error) {
			handled = append(handled, err)
		}),
	)

	var created int
	root.Class("x").
		Lifecycle(func(tree.Node) { panic("boom") }, nil).
		Lifecycle(func(tree.Node) { created++ }, nil)

	require.NoError(t, body.ReplaceChildren(
		doc.MustFragment(`<i class="x"></i>`),
		doc.MustFragment(`<i class="x"></i>`),
	))
	doc.Flush()

	assert.Equal(t, 2, created)
	require.Len(t, handled, 2)
	assert.ErrorIs(t, handled[0], watch.ErrCallbackPanicked)
	assert.Contains(t, handled[0].Error(), "boom")
	assert.Equal(t, 2, logs.FilterMessage("callback failed").Len())
}

func TestRegistrationsAreCumulative(t *testing.T) {
	_, _, root := setup(t, `<div id="body"><p>x</p></div>`)

	var calls int
	fn := func(tree.Node, watch.Value) { calls++ }
	root.Tag("p").Text(fn).Text(fn)
	assert.Equal(t, 2, calls)

	var created int
	root.Tag("p").Lifecycle(func(tree.Node) { created++ }, nil)
	assert.Equal(t, 1, created, "each declared watcher has its own connection")
}

func TestStaleAndNestedAdditions(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><section class="foo"></section></div>`)

	var rec recorder
	root.Class("foo").Lifecycle(rec.lifecycle("foo"))
	rec.take()

	t.Run("added then removed before delivery", func(t *testing.T) {
		p := doc.MustFragment(`<p class="foo"></p>`)
		require.NoError(t, body.AppendChild(p))
		p.Remove()
		doc.Flush()
		assert.Empty(t, rec.take())
	})

	t.Run("nested in an existing match", func(t *testing.T) {
		require.NoError(t, find(t, body, "section").AppendChild(doc.MustFragment(`<p class="foo"></p>`)))
		doc.Flush()
		assert.Empty(t, rec.take())
	})

	t.Run("moved inside the anchor", func(t *testing.T) {
		wrapper := doc.MustFragment(`<div id="wrapper"></div>`)
		require.NoError(t, body.AppendChild(wrapper))
		require.NoError(t, wrapper.AppendChild(find(t, body, "section")))
		doc.Flush()
		assert.Equal(t, []string{"-foo section.foo", "+foo section.foo"}, rec.take())
	})
}

func TestReplaceChildrenKeepsRetainedMatches(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><p id="a" class="foo"></p></div>`)

	var rec recorder
	foo := root.Class("foo").Lifecycle(rec.lifecycle("foo"))
	rec.take()

	a := find(t, body, "#a")
	b := doc.MustFragment(`<p id="b" class="foo"></p>`)
	require.NoError(t, body.ReplaceChildren(a, b))
	doc.Flush()

	assert.Equal(t, []string{"-foo p#a.foo", "+foo p#a.foo", "+foo p#b.foo"}, rec.take())
	assert.ElementsMatch(t, []tree.Node{a, b}, foo.Nodes())
}

func TestMatchMovedOutOfRemovedSubtree(t *testing.T) {
	//  body
	//   └─ div#wrapper   (removed)
	//       └─ p.foo     (then moved outside the anchor)
	doc, body, root := setup(t, `<div id="body"><div id="wrapper"><p class="foo"></p></div></div>`)

	var rec recorder
	foo := root.Class("foo").Lifecycle(rec.lifecycle("foo"))
	rec.take()

	p := find(t, body, ".foo")
	find(t, body, "#wrapper").Remove()
	require.NoError(t, doc.Root().AppendChild(p))
	doc.Flush()

	assert.Equal(t, []string{"-foo p.foo"}, rec.take())
	assert.False(t, foo.Connected())
	assert.False(t, tree.Contains(body, p))
}

func TestProgrammingErrors(t *testing.T) {
	_, _, root := setup(t, `<div id="body"></div>`)

	assert.PanicsWithValue(t, watch.ErrNotConnected, func() {
		root.ID("missing").Node()
	})
	assert.Panics(t, func() {
		root.Descendant(pattern.Pattern{Kind: 9, Name: "x"})
	})
	assert.Equal(t, tree.Node(root.Anchor()), root.Node())
}

func TestVisibilityGate(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><div id="player" style="display: none"><video></video></div></div>`)
	player := find(t, body, "#player")

	var rec recorder
	pw := root.ID("player")
	pw.Visible().Lifecycle(rec.lifecycle("visible")).
		Tag("video").Lifecycle(rec.lifecycle("video"))
	doc.Flush()
	assert.Empty(t, rec.take(), "hidden nodes do not open the gate")

	player.SetAttr("style", "")
	doc.Flush()
	assert.Equal(t, []string{"+visible div#player", "+video video"}, rec.take())

	t.Run("registered while visible", func(t *testing.T) {
		pw.Visible().Lifecycle(rec.lifecycle("late"))
		assert.Equal(t, []string{"+late div#player"}, rec.take())
	})

	t.Run("hidden by an ancestor", func(t *testing.T) {
		doc.SetRule("faded", "opacity: 0")
		body.AddClass("faded")
		doc.Flush()
		assert.Equal(t, []string{"-video video", "-visible div#player", "-late div#player"}, rec.take())

		body.RemoveClass("faded")
		doc.Flush()
		assert.Equal(t, []string{"+visible div#player", "+video video", "+late div#player"}, rec.take())
	})

	t.Run("moved out of the ancestor box", func(t *testing.T) {
		player.SetAttr("style", "left: 5000px")
		doc.Flush()
		assert.Equal(t, []string{"-video video", "-visible div#player", "-late div#player"}, rec.take())
		player.SetAttr("style", "visibility: collapse")
		doc.Flush()
		assert.Empty(t, rec.take())
		player.SetAttr("style", "")
		doc.Flush()
		rec.take()
	})

	t.Run("node removed", func(t *testing.T) {
		player.Remove()
		doc.Flush()
		assert.Equal(t, []string{"-video video", "-visible div#player", "-late div#player"}, rec.take())
		player.SetAttr("style", "display: block")
		doc.Flush()
		assert.Empty(t, rec.take())
	})
}

func TestRootVisibleUsesViewport(t *testing.T) {
	doc, body, root := setup(t, `<div id="body" style="top: 2000px"></div>`)

	var rec recorder
	root.Visible().Lifecycle(rec.lifecycle("visible"))
	doc.Flush()
	assert.Empty(t, rec.take())

	body.SetAttr("style", "top: 10px")
	doc.Flush()
	assert.Equal(t, []string{"+visible div#body"}, rec.take())
}

func TestVisibilityBackstop(t *testing.T) {
	mock := clock.NewMock()
	doc := tree.NewDocument(tree.WithClock(mock))
	body := doc.MustFragment(`<div id="body"><div id="player" class="skin"></div></div>`)
	require.NoError(t, doc.Root().AppendChild(body))

	root := watch.New(context.Background(), doc, body, watch.WithVisibilityInterval(10*time.Second))
	t.Cleanup(root.Close)

	var visible atomic.Bool
	root.ID("player").Visible().Lifecycle(
		func(tree.Node) { visible.Store(true) },
		func(tree.Node) { visible.Store(false) },
	)
	doc.Flush()
	require.True(t, visible.Load())

	doc.SetRule("skin", "display: none")
	doc.Flush()
	assert.True(t, visible.Load(), "stylesheet edits alone go unnoticed")

	mock.Add(10 * time.Second)
	require.Eventually(t, func() bool {
		doc.Flush()
		return !visible.Load()
	}, time.Second, time.Millisecond)
}

func TestContextCancellationClosesRoot(t *testing.T) {
	doc := tree.NewDocument()
	body := doc.MustFragment(`<div id="body"><p class="foo"></p></div>`)
	require.NoError(t, doc.Root().AppendChild(body))

	ctx, cancel := context.WithCancel(context.Background())
	root := watch.New(ctx, doc, body, watch.WithVisibilityInterval(0))

	var removed atomic.Int32
	foo := root.Class("foo").Lifecycle(nil, func(tree.Node) { removed.Add(1) })
	require.True(t, foo.Connected())

	cancel()
	require.Eventually(t, func() bool {
		doc.Flush()
		return removed.Load() == 1
	}, time.Second, time.Millisecond)
	assert.False(t, foo.Connected())
}

func TestOne(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"></div>`)

	var picks []string
	root.Class("ad").Scope(watch.One(func(n tree.Node) {
		picks = append(picks, tree.Describe(n))
	}))

	a := doc.MustFragment(`<i id="a" class="ad"></i>`)
	b := doc.MustFragment(`<i id="b" class="ad"></i>`)
	require.NoError(t, body.ReplaceChildren(a, b))
	doc.Flush()
	assert.Equal(t, []string{"i#a.ad"}, picks)

	a.Remove()
	doc.Flush()
	assert.Equal(t, []string{"i#a.ad", "i#b.ad"}, picks)

	b.Remove()
	doc.Flush()
	assert.Equal(t, []string{"i#a.ad", "i#b.ad", "<nil>"}, picks)
}

func TestWhileClass(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><div id="player" class="html5"></div></div>`)

	var rec recorder
	root.ID("player").Attr("class", watch.WhileClass("ad-showing", func(tree.Node) func() {
		rec.add("ad start")
		return func() { rec.add("ad end") }
	}))
	player := find(t, body, "#player")

	player.AddClass("ad-showing")
	doc.Flush()
	player.AddClass("ad-interrupting")
	doc.Flush()
	player.RemoveClass("ad-showing")
	doc.Flush()
	player.AddClass("ad-showing")
	doc.Flush()
	player.Remove()
	doc.Flush()

	assert.Equal(t, []string{"ad start", "ad end", "ad start", "ad end"}, rec.take())
}

func TestWhilePresent(t *testing.T) {
	doc, body, root := setup(t, `<div id="body"><video muted=""></video></div>`)

	var rec recorder
	root.Tag("video").Attr("muted", watch.WhilePresent(func(n tree.Node) func() {
		rec.add("muted %s", tree.Describe(n))
		return nil
	}))
	video := find(t, body, "video")

	video.SetAttr("muted", "muted")
	doc.Flush()
	video.RemoveAttr("muted")
	doc.Flush()
	video.SetAttr("muted", "")
	doc.Flush()

	assert.Equal(t, []string{"muted video", "muted video"}, rec.take())
}
