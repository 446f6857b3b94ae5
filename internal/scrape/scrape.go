// Package scrape contains small HTML extraction helpers for the campus
// portals. The portals serve server-rendered pages, so the SDK pulls its
// data out of hidden form fields, tables and anchors.
package scrape

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// CleanText applies NFKC normalisation (the portals mix full-width and
// half-width characters) and collapses runs of whitespace.
func CleanText(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// walk visits every element node in document order until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode {
		if !fn(n) {
			return false
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// text returns the concatenated text content of the node.
func text(n *html.Node) string {
	var sb strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return sb.String()
}

// HiddenInputs collects the name/value pairs of every input[type=hidden]
// in the document. The UIS login page carries its CSRF tokens this way.
func HiddenInputs(r io.Reader) (map[string]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	walk(doc, func(n *html.Node) bool {
		if n.Data != "input" {
			return true
		}
		if t, _ := attr(n, "type"); t != "hidden" {
			return true
		}
		name, ok := attr(n, "name")
		if !ok || name == "" {
			return true
		}
		value, _ := attr(n, "value")
		out[name] = value
		return true
	})
	return out, nil
}

// FirstHiddenInputValue returns the value of the first input[type=hidden].
func FirstHiddenInputValue(r io.Reader) (string, bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", false, err
	}
	var value string
	var found bool
	walk(doc, func(n *html.Node) bool {
		if n.Data != "input" {
			return true
		}
		if t, _ := attr(n, "type"); t != "hidden" {
			return true
		}
		value, _ = attr(n, "value")
		found = true
		return false
	})
	return value, found, nil
}

// AttrByID returns the given attribute of the element with the given id.
func AttrByID(r io.Reader, id, key string) (string, bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", false, err
	}
	var value string
	var found bool
	walk(doc, func(n *html.Node) bool {
		if got, ok := attr(n, "id"); !ok || got != id {
			return true
		}
		value, found = attr(n, key)
		found = true
		return false
	})
	return value, found, nil
}

// AnchorHrefByText returns the href of the first anchor whose text content
// equals want after cleaning. Used to follow the JWFW interstitial page.
func AnchorHrefByText(r io.Reader, want string) (string, bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", false, err
	}
	var href string
	var found bool
	walk(doc, func(n *html.Node) bool {
		if n.Data != "a" {
			return true
		}
		if CleanText(text(n)) != want {
			return true
		}
		href, found = attr(n, "href")
		return !found
	})
	return href, found, nil
}

// TableRows extracts tbody rows as cleaned cell texts. Rows without any
// td or th cells are skipped.
func TableRows(r io.Reader) ([][]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var rows [][]string
	walk(doc, func(n *html.Node) bool {
		if n.Data != "tbody" {
			return true
		}
		for tr := n.FirstChild; tr != nil; tr = tr.NextSibling {
			if tr.Type != html.ElementNode || tr.Data != "tr" {
				continue
			}
			var cells []string
			for td := tr.FirstChild; td != nil; td = td.NextSibling {
				if td.Type != html.ElementNode || (td.Data != "td" && td.Data != "th") {
					continue
				}
				cells = append(cells, CleanText(text(td)))
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		}
		return true
	})
	return rows, nil
}

// FirstDivText returns the cleaned text content of the first div element.
// The course election endpoint reports its outcome in one.
func FirstDivText(r io.Reader) (string, bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", false, err
	}
	var out string
	var found bool
	walk(doc, func(n *html.Node) bool {
		if n.Data != "div" {
			return true
		}
		out = CleanText(text(n))
		found = true
		return false
	})
	return out, found, nil
}
