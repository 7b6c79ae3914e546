package extractor

import (
	"regexp"

	"github.com/JakeFAU/page-insights/internal/dom"
)

var (
	pageNameRule     = dom.Class(`page-name`, "h1")
	headingRule      = dom.Tag("h1")
	profilePicRule   = dom.Class(`profile.*pic`, "img")
	emailRule        = dom.AttrMatch("href", `^mailto:`, "a")
	absoluteLinkRule = dom.AttrMatch("href", `^https?://\S+`, "a")
	categoryRule     = dom.Class(`category`, "div")
	aboutRule        = dom.Class(`about`, "div")

	followersLabel = regexp.MustCompile(`(?i)followers`)
	likesLabel     = regexp.MustCompile(`(?i)people like this`)
	createdLabel   = regexp.MustCompile(`(?i)page created`)

	postRule          = dom.Class(`feed.*story`, "div")
	postContentRule   = dom.Class(`post-content`, "div")
	postLikesRule     = dom.Class(`like.*count`, "span")
	postSharesRule    = dom.Class(`share.*count`, "span")
	commentRule       = dom.Class(`comment`, "div")
	commentAuthorRule = dom.Class(`author`, "a")
	mediaRule         = dom.Tag("img", "video")

	followerRule     = dom.Class(`follower.*item`, "div")
	followerNameRule = dom.Class(`name`, "a")
)

// timeMarkers are tried in order for a post's timestamp.
var timeMarkers = []struct {
	query dom.Query
	attr  string
}{
	{query: dom.Tag("abbr"), attr: "title"},
	{query: dom.Tag("time"), attr: "datetime"},
}

// rule resolves one candidate value under a node.
type rule func(dom.Node) (string, bool)

// firstOf walks a fallback chain and returns the first non-empty value.
func firstOf(n dom.Node, chain ...rule) (string, bool) {
	for _, r := range chain {
		if v, ok := r(n); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func textOf(q dom.Query) rule {
	return func(n dom.Node) (string, bool) {
		el, ok := n.Find(q)
		if !ok {
			return "", false
		}
		return el.Text(), true
	}
}

func attrOf(q dom.Query, attr string) rule {
	return func(n dom.Node) (string, bool) {
		el, ok := n.Find(q)
		if !ok {
			return "", false
		}
		return el.Attr(attr)
	}
}

func selfAttr(attr string) rule {
	return func(n dom.Node) (string, bool) {
		return n.Attr(attr)
	}
}

func optional(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}
