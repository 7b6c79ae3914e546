// Package dom is a small structured query layer over goquery. Extraction rules
// are written as Query values (tag + attribute pattern + text pattern) so they
// stay independent of the underlying parser API.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Query selects elements by tag name, an attribute pattern, and a text pattern.
// Empty fields do not constrain the match.
type Query struct {
	// Tags lists acceptable element names; empty accepts any element.
	Tags []string
	// Attr is the attribute Pattern is matched against. The attribute must be present.
	Attr    string
	Pattern *regexp.Regexp
	// Text is matched against the element's trimmed text content.
	Text *regexp.Regexp
}

// Tag matches elements by name only.
func Tag(tags ...string) Query {
	return Query{Tags: tags}
}

// Class matches elements whose class attribute matches pattern.
func Class(pattern string, tags ...string) Query {
	return Query{Tags: tags, Attr: "class", Pattern: regexp.MustCompile(pattern)}
}

// AttrMatch matches elements whose attr matches pattern.
func AttrMatch(attr, pattern string, tags ...string) Query {
	return Query{Tags: tags, Attr: attr, Pattern: regexp.MustCompile(pattern)}
}

// Document is a parsed HTML tree.
type Document struct {
	root *goquery.Document
}

// Parse reads HTML from r.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Document{root: doc}, nil
}

// ParseBytes is Parse over an in-memory body.
func ParseBytes(body []byte) (*Document, error) {
	return Parse(bytes.NewReader(body))
}

// Root returns the document node.
func (d *Document) Root() Node {
	return Node{sel: d.root.Selection}
}

// Node wraps a single element (or the document root).
type Node struct {
	sel *goquery.Selection
}

// Find returns the first descendant matching q in document order.
func (n Node) Find(q Query) (Node, bool) {
	found := n.FindAll(q, 1)
	if len(found) == 0 {
		return Node{}, false
	}
	return found[0], true
}

// FindAll returns descendants matching q in document order. limit <= 0 means no limit.
func (n Node) FindAll(q Query, limit int) []Node {
	if n.sel == nil {
		return nil
	}
	selector := "*"
	if len(q.Tags) > 0 {
		selector = strings.Join(q.Tags, ",")
	}
	var out []Node
	n.sel.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !q.matches(s) {
			return true
		}
		out = append(out, Node{sel: s})
		return limit <= 0 || len(out) < limit
	})
	return out
}

// FindText returns the element owning the first text node under n that matches re.
// This is the "nearest element containing the text" used for labelled counters.
func (n Node) FindText(re *regexp.Regexp) (Node, bool) {
	found := n.FindAllText(re, 1)
	if len(found) == 0 {
		return Node{}, false
	}
	return found[0], true
}

// FindAllText returns, in document order, the elements owning text nodes that
// match re. Script and style bodies are ignored. limit <= 0 means no limit.
func (n Node) FindAllText(re *regexp.Regexp, limit int) []Node {
	if n.sel == nil || re == nil {
		return nil
	}
	var out []Node
	for i, root := range n.sel.Nodes {
		var owners []*html.Node
		collectTextOwners(root, re, &owners)
		for _, owner := range owners {
			if owner == root {
				out = append(out, Node{sel: n.sel.Eq(i)})
			} else {
				out = append(out, Node{sel: n.sel.FindNodes(owner)})
			}
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

// Valid reports whether n refers to an element.
func (n Node) Valid() bool {
	return n.sel != nil && n.sel.Length() > 0
}

// Tag returns the lower-case element name.
func (n Node) Tag() string {
	if !n.Valid() {
		return ""
	}
	return goquery.NodeName(n.sel)
}

// Text returns the trimmed text content with inner whitespace collapsed.
func (n Node) Text() string {
	if !n.Valid() {
		return ""
	}
	return strings.Join(strings.Fields(n.sel.Text()), " ")
}

// Attr returns the attribute value if present and non-blank.
func (n Node) Attr(name string) (string, bool) {
	if !n.Valid() {
		return "", false
	}
	v, ok := n.sel.Attr(name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (q Query) matches(s *goquery.Selection) bool {
	if q.Attr != "" {
		v, ok := s.Attr(q.Attr)
		if !ok {
			return false
		}
		if q.Pattern != nil && !q.Pattern.MatchString(v) {
			return false
		}
	}
	if q.Text != nil && !q.Text.MatchString(strings.TrimSpace(s.Text())) {
		return false
	}
	return true
}

func collectTextOwners(node *html.Node, re *regexp.Regexp, out *[]*html.Node) {
	matched := false
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if !matched && node.Type == html.ElementNode && re.MatchString(c.Data) {
				*out = append(*out, node)
				matched = true
			}
		case html.ElementNode:
			if c.Data == "script" || c.Data == "style" {
				continue
			}
			collectTextOwners(c, re, out)
		}
	}
}
