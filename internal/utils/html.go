// internal/utils/html.go
package utils

import (
	"strings"

	"golang.org/x/net/html"
)

// FindFirst returns the first element in document order with the given tag
// and, when class is not empty, carrying class among its classes.
func FindFirst(root *html.Node, tag, class string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && root.Data == tag && (class == "" || HasClass(root, class)) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if found := FindFirst(c, tag, class); found != nil {
			return found
		}
	}
	return nil
}

// HasClass reports whether n lists class in its class attribute.
func HasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// NodeText concatenates every text node under n, unmodified.
func NodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
