package pattern_test

import (
	"testing"

	"github.com/delaneyj/nodewatch/pattern"
	"github.com/delaneyj/nodewatch/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `
<main id="main-id" class="main-class">
  <div id="parent">
    <div id="foo">
      <div id="foo">foo</div>
    </div>

    <div class="foo">
      <div class="foo">foo</div>
    </div>

    <span>
      <span>foo</span>
    </span>

    <div id="child">
      <div id="foo">
        <div id="foo">foo</div>
      </div>

      <div class="foo">
        <div class="foo">foo</div>
      </div>

      <span>
        <span>foo</span>
      </span>
    </div>
  </div>
</main>`

func fixture(t *testing.T) (*tree.Element, *tree.Element, *tree.Element) {
	t.Helper()
	doc := tree.NewDocument()
	main := doc.MustFragment(page)
	require.NoError(t, doc.Root().AppendChild(main))

	parent := pattern.MatchingDescendants(main, pattern.ByID("parent"))
	require.Len(t, parent, 1)
	child := pattern.MatchingDescendants(main, pattern.ByID("child"))
	require.Len(t, child, 1)
	return main, parent[0].(*tree.Element), child[0].(*tree.Element)
}

// directChildren returns the element children of each parent matching p, in
// document order: what ":is(#parent, #child) > p" selects in a browser.
func directChildren(p pattern.Pattern, parents ...*tree.Element) []tree.Node {
	var out []tree.Node
	for _, parent := range parents {
		for _, c := range parent.Children() {
			if pattern.Matches(c, p) {
				out = append(out, c)
			}
		}
	}
	return out
}

func TestMatchingDescendants(t *testing.T) {
	main, parent, child := fixture(t)

	t.Run("finds only the outermost matches", func(t *testing.T) {
		for _, p := range []pattern.Pattern{
			pattern.ByID("foo"),
			pattern.ByClass("foo"),
			pattern.ByTag("span"),
		} {
			t.Run(p.Kind.String(), func(t *testing.T) {
				got := pattern.MatchingDescendants(main, p)
				assert.Equal(t, directChildren(p, parent, child), got)
				assert.Len(t, got, 2)
			})
		}
	})

	t.Run("does not return the root", func(t *testing.T) {
		for _, p := range []pattern.Pattern{
			pattern.ByID("main-id"),
			pattern.ByClass("main-class"),
			pattern.ByTag("main"),
		} {
			t.Run(p.Kind.String(), func(t *testing.T) {
				assert.Empty(t, pattern.MatchingDescendants(main, p))
			})
		}
	})

	t.Run("never returns a match with its matching descendant", func(t *testing.T) {
		for _, p := range []pattern.Pattern{
			pattern.ByID("foo"),
			pattern.ByClass("foo"),
			pattern.ByTag("div"),
			pattern.ByTag("span"),
		} {
			got := pattern.MatchingDescendants(main, p)
			for i, a := range got {
				for j, b := range got {
					if i != j {
						assert.False(t, tree.Contains(a, b), "%s contains %s", tree.Describe(a), tree.Describe(b))
					}
				}
			}
		}
	})
}

func TestSelfOrMatchingDescendants(t *testing.T) {
	main, parent, child := fixture(t)

	t.Run("finds the root", func(t *testing.T) {
		for _, p := range []pattern.Pattern{
			pattern.ByID("main-id"),
			pattern.ByClass("main-class"),
			pattern.ByTag("MAIN"),
		} {
			t.Run(p.Kind.String(), func(t *testing.T) {
				assert.Equal(t, []tree.Node{main}, pattern.SelfOrMatchingDescendants(main, p))
			})
		}
	})

	t.Run("falls back to descendants", func(t *testing.T) {
		p := pattern.ByClass("foo")
		assert.Equal(t, directChildren(p, parent, child), pattern.SelfOrMatchingDescendants(main, p))
	})

	t.Run("ignores text nodes", func(t *testing.T) {
		doc := tree.NewDocument()
		text := doc.CreateText("foo")
		assert.Empty(t, pattern.SelfOrMatchingDescendants(text, pattern.ByTag("foo")))
	})
}

func TestOutermost(t *testing.T) {
	main, _, child := fixture(t)

	outer := pattern.MatchingDescendants(child, pattern.ByClass("foo"))
	require.Len(t, outer, 1)
	inner := pattern.MatchingDescendants(outer[0], pattern.ByClass("foo"))
	require.Len(t, inner, 1)

	assert.True(t, pattern.Outermost(main, outer[0], pattern.ByClass("foo")))
	assert.False(t, pattern.Outermost(main, inner[0], pattern.ByClass("foo")))
	assert.True(t, pattern.Outermost(outer[0], inner[0], pattern.ByClass("foo")))
	assert.False(t, pattern.Outermost(inner[0], outer[0], pattern.ByClass("foo")))
}

func TestMatchesImpossibleKind(t *testing.T) {
	doc := tree.NewDocument()
	assert.Panics(t, func() {
		pattern.Matches(doc.Root(), pattern.Pattern{Kind: 42, Name: "x"})
	})
	assert.Panics(t, func() {
		pattern.Matches(nil, pattern.Pattern{Name: "x"})
	})
}

func TestParse(t *testing.T) {
	for in, want := range map[string]pattern.Pattern{
		"#movie_player": pattern.ByID("movie_player"),
		".ytp-ad":       pattern.ByClass("ytp-ad"),
		"video":         pattern.ByTag("video"),
		" button ":      pattern.ByTag("button"),
	} {
		got, err := pattern.Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
		assert.Equal(t, got, must(pattern.Parse(got.String())))
	}

	for _, in := range []string{"", "#", ".", "div.foo", "a b"} {
		_, err := pattern.Parse(in)
		assert.ErrorIs(t, err, pattern.ErrSyntax, in)
	}
}

func must(p pattern.Pattern, err error) pattern.Pattern {
	if err != nil {
		panic(err)
	}
	return p
}
