package dom

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixture = `<html><body>
<h1 class="title">Generic</h1>
<h1 class="x page-name y">Acme Widgets</h1>
<div class="stats"><span>  2.3K
   followers</span></div>
<a href="mailto:hello@acme.test">mail</a>
<a href="https://acme.test/shop">shop</a>
<div class="card"><p>one</p></div>
<div class="card"><p>two</p></div>
<div class="card"><p>three</p></div>
<script>var followers = 1;</script>
</body></html>`

func mustParse(t *testing.T) Node {
	t.Helper()
	doc, err := ParseBytes([]byte(fixture))
	require.NoError(t, err)
	return doc.Root()
}

func TestFindByClassPattern(t *testing.T) {
	t.Parallel()

	root := mustParse(t)
	n, ok := root.Find(Class(`page-name`, "h1"))
	require.True(t, ok)
	require.Equal(t, "Acme Widgets", n.Text())
	require.Equal(t, "h1", n.Tag())

	first, ok := root.Find(Tag("h1"))
	require.True(t, ok)
	require.Equal(t, "Generic", first.Text())

	_, ok = root.Find(Class(`missing`, "h1"))
	require.False(t, ok)
}

func TestFindAllRespectsLimitAndOrder(t *testing.T) {
	t.Parallel()

	root := mustParse(t)
	cards := root.FindAll(Class(`^card$`, "div"), 2)
	require.Len(t, cards, 2)
	require.Equal(t, "one", cards[0].Text())
	require.Equal(t, "two", cards[1].Text())

	require.Len(t, root.FindAll(Class(`^card$`, "div"), 0), 3)
}

func TestFindByAttrPattern(t *testing.T) {
	t.Parallel()

	root := mustParse(t)
	mail, ok := root.Find(AttrMatch("href", `^mailto:`, "a"))
	require.True(t, ok)
	href, ok := mail.Attr("href")
	require.True(t, ok)
	require.Equal(t, "mailto:hello@acme.test", href)

	_, ok = mail.Attr("title")
	require.False(t, ok)
}

func TestFindTextReturnsOwningElement(t *testing.T) {
	t.Parallel()

	root := mustParse(t)
	owner, ok := root.FindText(regexp.MustCompile(`(?i)followers`))
	require.True(t, ok)
	require.Equal(t, "span", owner.Tag())
	require.Equal(t, "2.3K followers", owner.Text())

	_, ok = root.FindText(regexp.MustCompile(`nothing like this`))
	require.False(t, ok)
}

func TestQueryTextPredicate(t *testing.T) {
	t.Parallel()

	root := mustParse(t)
	n, ok := root.Find(Query{Tags: []string{"p"}, Text: regexp.MustCompile(`^thr`)})
	require.True(t, ok)
	require.Equal(t, "three", n.Text())
}

func TestZeroNodeIsSafe(t *testing.T) {
	t.Parallel()

	var n Node
	require.False(t, n.Valid())
	require.Empty(t, n.Text())
	require.Empty(t, n.Tag())
	_, ok := n.Find(Tag("a"))
	require.False(t, ok)
	_, ok = n.FindText(regexp.MustCompile(`x`))
	require.False(t, ok)
}

func TestFindAllTextSkipsScripts(t *testing.T) {
	t.Parallel()

	root := mustParse(t)
	owners := root.FindAllText(regexp.MustCompile(`(?i)followers`), 0)
	require.Len(t, owners, 1)
	require.Equal(t, "span", owners[0].Tag())
}
