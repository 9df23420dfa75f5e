// File: internal/browser/digest.go
package browser

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// Alert banner selectors the digest recognizes. MGrant renders errors with
// role="alert" and MUI-style .MuiAlert-message containers.
var alertClassFragments = []string{"MuiAlert-message", "alert-message", "error-banner"}

// DigestHTML condenses a page document into the title, the visible headings
// and any alert banner text. The digest rides along on failure records so a
// reader can tell what the page said without opening the screenshot.
func DigestHTML(doc string) schemas.PageDigest {
	digest := schemas.PageDigest{}

	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return digest
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if digest.Title == "" {
					digest.Title = nodeText(n)
				}
			case "h1", "h2", "h3":
				if text := nodeText(n); text != "" {
					digest.Headings = append(digest.Headings, text)
				}
			default:
				if isAlertNode(n) {
					if text := nodeText(n); text != "" {
						digest.Alerts = append(digest.Alerts, text)
					}
					// Do not descend, nested spans would duplicate the text.
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return digest
}

func isAlertNode(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch attr.Key {
		case "role":
			if attr.Val == "alert" {
				return true
			}
		case "class":
			for _, fragment := range alertClassFragments {
				if strings.Contains(attr.Val, fragment) {
					return true
				}
			}
		}
	}
	return false
}

// nodeText collapses the subtree's text nodes into one trimmed string.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var collect func(n *html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
