package tree

import (
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// parseDeclarations parses an inline style body such as
// "display: none; width: 10px" into lower case property/value pairs.
// Malformed input yields whatever was parsed before the error.
func parseDeclarations(src string) map[string]string {
	decls := map[string]string{}
	if strings.TrimSpace(src) == "" {
		return decls
	}

	p := css.NewParser(parse.NewInputString(src), true)
	for {
		gt, _, data := p.Next()
		switch gt {
		case css.ErrorGrammar:
			return decls
		case css.DeclarationGrammar:
			var sb strings.Builder
			for _, v := range p.Values() {
				sb.Write(v.Data)
			}
			value := strings.TrimSpace(strings.ToLower(sb.String()))
			value = strings.TrimSpace(strings.TrimSuffix(value, "!important"))
			decls[strings.ToLower(string(data))] = value
		}
	}
}

func (d *Document) inlineStyleLocked(e *Element) map[string]string {
	src, _ := e.attrLocked("style")
	if e.style == nil || src != e.styleSrc {
		e.style = parseDeclarations(src)
		e.styleSrc = src
	}
	return e.style
}

func (d *Document) computedStyleLocked(e *Element, property string) string {
	var value string
	for _, r := range d.rules {
		if !e.hasClassLocked(r.class) {
			continue
		}
		if v, ok := r.decls[property]; ok {
			value = v
		}
	}
	if v, ok := d.inlineStyleLocked(e)[property]; ok {
		value = v
	}
	return value
}

// pixels parses "12px" or "12". Anything else is not a length.
func pixels(v string) (int, bool) {
	v = strings.TrimSuffix(v, "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(f)), true
}

// layoutLocked computes e's box: the parent's box (the viewport for the
// root) offset by left/top and sized by width/height. Missing sizes fill the
// rest of the parent box; display:none collapses the box and everything in it.
func (d *Document) layoutLocked(e *Element) image.Rectangle {
	outer := d.viewport
	if e.parent != nil {
		outer = d.layoutLocked(e.parent)
	}
	if outer.Empty() || d.computedStyleLocked(e, "display") == "none" {
		return image.Rectangle{}
	}

	x, y := outer.Min.X, outer.Min.Y
	if left, ok := pixels(d.computedStyleLocked(e, "left")); ok {
		x += left
	}
	if top, ok := pixels(d.computedStyleLocked(e, "top")); ok {
		y += top
	}

	w, h := outer.Max.X-x, outer.Max.Y-y
	if width, ok := pixels(d.computedStyleLocked(e, "width")); ok {
		w = width
	}
	if height, ok := pixels(d.computedStyleLocked(e, "height")); ok {
		h = height
	}
	return image.Rect(x, y, x+max(w, 0), y+max(h, 0))
}

func (d *Document) intersectsLocked(target *Element, root Node) bool {
	if !d.attachedLocked(target) {
		return false
	}

	viewport := d.viewport
	if root != nil {
		r := d.mustElementLocked(root)
		if !d.attachedLocked(r) {
			return false
		}
		viewport = d.layoutLocked(r)
	}
	return d.layoutLocked(target).Overlaps(viewport)
}
