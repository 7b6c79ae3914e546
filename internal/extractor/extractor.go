// Package extractor turns a parsed profile page into an insights.EntityGraph.
//
// Every field is resolved through an ordered fallback chain of dom queries.
// A missing or malformed field degrades to nil/zero for that field only; the
// extraction as a whole never fails once the markup has been parsed.
package extractor

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/JakeFAU/page-insights/internal/dom"
	"github.com/JakeFAU/page-insights/internal/insights"
	"github.com/JakeFAU/page-insights/internal/normalize"
)

// Config bounds extraction and identifies the scraped site.
type Config struct {
	// SourceDomain is excluded when looking for the page's external website.
	SourceDomain string
	PostLimit    int
	CommentLimit int
	MaxFollowers int
}

// Defaults mirror the limits the scraper has always used.
const (
	DefaultPostLimit    = 30
	DefaultCommentLimit = 100
	DefaultMaxFollowers = 1000
)

// Extractor applies the extraction rules. It is stateless apart from its clock.
type Extractor struct {
	cfg   Config
	clock insights.Clock
}

// New builds an Extractor. Zero limits take the defaults.
func New(cfg Config, clock insights.Clock) *Extractor {
	if cfg.PostLimit <= 0 {
		cfg.PostLimit = DefaultPostLimit
	}
	if cfg.CommentLimit <= 0 {
		cfg.CommentLimit = DefaultCommentLimit
	}
	if cfg.MaxFollowers <= 0 {
		cfg.MaxFollowers = DefaultMaxFollowers
	}
	cfg.SourceDomain = strings.TrimPrefix(strings.ToLower(cfg.SourceDomain), "www.")
	return &Extractor{cfg: cfg, clock: clock}
}

// ExtractHTML parses body and extracts the entity graph for username.
func (e *Extractor) ExtractHTML(body []byte, username, pageURL string) (insights.EntityGraph, error) {
	doc, err := dom.ParseBytes(body)
	if err != nil {
		return insights.EntityGraph{}, fmt.Errorf("extract %s: %w", username, err)
	}
	return e.Extract(doc, username, pageURL), nil
}

// Extract builds the entity graph from a parsed document.
func (e *Extractor) Extract(doc *dom.Document, username, pageURL string) insights.EntityGraph {
	now := e.clock.Now()
	root := doc.Root()

	page := insights.Page{
		Username:      username,
		URL:           pageURL,
		Name:          optional(firstOf(root, textOf(pageNameRule), textOf(headingRule))),
		ProfilePic:    optional(firstOf(root, attrOf(profilePicRule, "src"))),
		Email:         optional(firstOf(root, e.email)),
		Website:       optional(firstOf(root, e.website)),
		Category:      optional(firstOf(root, textOf(categoryRule))),
		FollowerCount: labelledCount(root, followersLabel),
		LikesCount:    labelledCount(root, likesLabel),
		About:         optional(firstOf(root, textOf(aboutRule))),
		ScrapedAt:     now,
	}
	if created, ok := e.creationDate(root); ok {
		page.CreationDate = &created
	}

	return insights.EntityGraph{
		Page:      page,
		Posts:     e.posts(root),
		Followers: e.followers(root),
	}
}

func (e *Extractor) email(root dom.Node) (string, bool) {
	n, ok := root.Find(emailRule)
	if !ok {
		return "", false
	}
	href, _ := n.Attr("href")
	addr := strings.TrimSpace(strings.TrimPrefix(href, "mailto:"))
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	return addr, addr != ""
}

// website picks the first absolute link that leaves the source domain.
func (e *Extractor) website(root dom.Node) (string, bool) {
	for _, n := range root.FindAll(absoluteLinkRule, 0) {
		href, ok := n.Attr("href")
		if !ok {
			continue
		}
		u, err := url.Parse(href)
		if err != nil || u.Host == "" {
			continue
		}
		if e.isSourceHost(u.Hostname()) {
			continue
		}
		return href, true
	}
	return "", false
}

func (e *Extractor) isSourceHost(host string) bool {
	if e.cfg.SourceDomain == "" {
		return false
	}
	host = strings.ToLower(host)
	return host == e.cfg.SourceDomain || strings.HasSuffix(host, "."+e.cfg.SourceDomain)
}

func (e *Extractor) creationDate(root dom.Node) (time.Time, bool) {
	for _, owner := range root.FindAllText(createdLabel, 0) {
		if t, found := normalize.ParseLooseDate(owner.Text()); found {
			return t, true
		}
	}
	return time.Time{}, false
}

// labelledCount reads the first number found next to a label such as
// "followers". Labels without a number (navigation tabs) are skipped.
func labelledCount(root dom.Node, label *regexp.Regexp) int64 {
	for _, owner := range root.FindAllText(label, 0) {
		if n := normalize.MagnitudeIn(owner.Text()); n > 0 {
			return n
		}
	}
	return 0
}

func (e *Extractor) posts(root dom.Node) []insights.Post {
	nodes := root.FindAll(postRule, e.cfg.PostLimit)
	posts := make([]insights.Post, 0, len(nodes))
	for _, n := range nodes {
		posts = append(posts, e.post(n))
	}
	return posts
}

func (e *Extractor) post(n dom.Node) insights.Post {
	now := e.clock.Now()
	post := insights.Post{
		Content:   optional(firstOf(n, textOf(postContentRule))),
		CreatedAt: now,
		MediaURLs: mediaURLs(n),
		Comments:  e.comments(n),
	}
	if ts, ok := postTimestamp(n); ok {
		post.CreatedAt = ts
	}
	if likes, ok := n.Find(postLikesRule); ok {
		post.LikesCount = normalize.ParseMagnitude(likes.Text())
	}
	if shares, ok := n.Find(postSharesRule); ok {
		post.SharesCount = normalize.ParseMagnitude(shares.Text())
	}
	return post
}

func postTimestamp(n dom.Node) (time.Time, bool) {
	for _, marker := range timeMarkers {
		el, ok := n.Find(marker.query)
		if !ok {
			continue
		}
		raw, ok := el.Attr(marker.attr)
		if !ok {
			continue
		}
		if ts, ok := normalize.ParseTimestamp(raw); ok {
			return ts, true
		}
	}
	return time.Time{}, false
}

func (e *Extractor) comments(post dom.Node) []insights.Comment {
	nodes := post.FindAll(commentRule, e.cfg.CommentLimit)
	comments := make([]insights.Comment, 0, len(nodes))
	for _, n := range nodes {
		comments = append(comments, insights.Comment{
			Content: n.Text(),
			Author:  commentAuthor(n),
			// Comment dates are not exposed reliably; stamp ingestion time.
			CreatedAt: e.clock.Now(),
		})
	}
	return comments
}

func commentAuthor(n dom.Node) *insights.Author {
	a, ok := n.Find(commentAuthorRule)
	if !ok {
		return nil
	}
	href, _ := a.Attr("href")
	return &insights.Author{Name: a.Text(), ProfileURL: href}
}

func mediaURLs(n dom.Node) []string {
	urls := []string{}
	for _, m := range n.FindAll(mediaRule, 0) {
		var (
			src string
			ok  bool
		)
		if m.Tag() == "video" {
			src, ok = firstOf(m, selfAttr("src"), selfAttr("data-url"))
		} else {
			src, ok = m.Attr("src")
		}
		if ok {
			urls = append(urls, src)
		}
	}
	return urls
}

func (e *Extractor) followers(root dom.Node) []insights.Follower {
	now := e.clock.Now()
	nodes := root.FindAll(followerRule, e.cfg.MaxFollowers)
	seen := make(map[string]struct{}, len(nodes))
	followers := make([]insights.Follower, 0, len(nodes))
	for _, n := range nodes {
		f := insights.Follower{
			Name:       optional(firstOf(n, textOf(followerNameRule))),
			ProfilePic: optional(firstOf(n, attrOf(dom.Tag("img"), "src"))),
			ProfileURL: optional(firstOf(n, attrOf(dom.Tag("a"), "href"))),
			CreatedAt:  now,
		}
		f.FollowerID = followerKey(f)
		if f.FollowerID == "" {
			continue
		}
		if _, dup := seen[f.FollowerID]; dup {
			continue
		}
		seen[f.FollowerID] = struct{}{}
		followers = append(followers, f)
	}
	return followers
}

// followerKey derives a stable id. A profile "id" query param wins, then a
// vanity path segment. Script endpoints (profile.php, l.php) identify nobody
// by path alone, so they key on host, path and sorted query, plus the display
// name when the query is empty. Without a usable URL the display name is used.
func followerKey(f insights.Follower) string {
	var name string
	if f.Name != nil {
		name = strings.TrimSpace(*f.Name)
	}
	if f.ProfileURL == nil || *f.ProfileURL == "" {
		return name
	}
	u, err := url.Parse(*f.ProfileURL)
	if err != nil {
		return name
	}
	query := u.Query()
	if id := query.Get("id"); id != "" {
		return id
	}
	trimmed := strings.TrimRight(u.Path, "/")
	seg := path.Base(trimmed)
	vanity := seg != "" && seg != "." && seg != "/" && !scriptEndpoints[strings.ToLower(path.Ext(seg))]
	if vanity {
		return seg
	}
	key := strings.ToLower(u.Host) + trimmed
	if len(query) > 0 {
		return key + "?" + query.Encode()
	}
	if name == "" {
		return ""
	}
	return key + "#" + name
}

var scriptEndpoints = map[string]bool{
	".php":  true,
	".asp":  true,
	".aspx": true,
	".jsp":  true,
	".cgi":  true,
	".htm":  true,
	".html": true,
}
