package rewrite

import (
	"fmt"
	"strings"

	"github.com/slybit/mqtt2prom/errors"
)

const (
	openTag  = "{{"
	closeTag = "}}"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
	"/", "&#x2F;",
	"`", "&#x60;",
	"=", "&#x3D;",
)

type segment struct {
	text   string
	path   string
	isVar  bool
	escape bool
}

// Template derives a Value from a render context. It is either a compiled
// variable template or a literal passed through unchanged. The zero Template
// is the literal Undefined.
type Template struct {
	source   string
	compiled bool
	segments []segment
	literal  Value
}

// Literal returns a template that always renders v.
func Literal(v Value) Template {
	return Template{literal: v}
}

// Compile parses a mustache variable template. Only variable tags ({{x}},
// {{{x}}}, {{& x}}) and comments are supported.
func Compile(src string) (Template, error) {
	var segs []segment
	rest := src
	for len(rest) > 0 {
		start := strings.Index(rest, openTag)
		if start < 0 {
			segs = append(segs, segment{text: rest})
			break
		}
		if start > 0 {
			segs = append(segs, segment{text: rest[:start]})
		}
		rest = rest[start+len(openTag):]

		var tag string
		escape := true
		if strings.HasPrefix(rest, "{") {
			end := strings.Index(rest, "}"+closeTag)
			if end < 0 {
				return Template{}, invalidTemplate(src, "unclosed tag")
			}
			tag = strings.TrimSpace(rest[1:end])
			rest = rest[end+1+len(closeTag):]
			escape = false
		} else {
			end := strings.Index(rest, closeTag)
			if end < 0 {
				return Template{}, invalidTemplate(src, "unclosed tag")
			}
			tag = strings.TrimSpace(rest[:end])
			rest = rest[end+len(closeTag):]

			if tag != "" {
				switch tag[0] {
				case '!':
					continue
				case '&':
					tag = strings.TrimSpace(tag[1:])
					escape = false
				case '#', '^', '/', '>', '=', '<', '$', '{':
					return Template{}, invalidTemplate(src, fmt.Sprintf("unsupported tag %q", openTag+tag+closeTag))
				}
			}
		}

		if tag == "" {
			return Template{}, invalidTemplate(src, "empty tag")
		}
		segs = append(segs, segment{path: tag, isVar: true, escape: escape})
	}
	return Template{source: src, compiled: true, segments: segs}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) Template {
	t, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return t
}

func invalidTemplate(src, reason string) error {
	return errors.WrapInvalid(fmt.Errorf("%w %q: %s", errors.ErrInvalidTemplate, src, reason),
		"rewrite", "Compile", "template parse")
}

// Render evaluates the template. Compiled templates always produce a String.
func (t Template) Render(ctx Value) Value {
	if !t.compiled {
		return t.literal
	}
	return String(t.String(ctx))
}

// String evaluates the template to text.
func (t Template) String(ctx Value) string {
	if !t.compiled {
		return t.literal.String()
	}
	if len(t.segments) == 1 && !t.segments[0].isVar {
		return t.segments[0].text
	}

	var b strings.Builder
	for _, seg := range t.segments {
		if !seg.isVar {
			b.WriteString(seg.text)
			continue
		}
		text := ctx.Lookup(seg.path).String()
		if seg.escape {
			text = htmlEscaper.Replace(text)
		}
		b.WriteString(text)
	}
	return b.String()
}

// IsLiteral reports whether the template passes a fixed value through.
func (t Template) IsLiteral() bool { return !t.compiled }

// Source returns the template text, or the literal's string form.
func (t Template) Source() string {
	if !t.compiled {
		return t.literal.String()
	}
	return t.source
}

// Static returns the rendered text of a template that does not depend on
// the render context.
func (t Template) Static() (string, bool) {
	if !t.compiled {
		return t.literal.String(), true
	}
	for _, seg := range t.segments {
		if seg.isVar {
			return "", false
		}
	}
	return t.String(Undefined()), true
}
