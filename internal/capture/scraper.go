package capture

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// subresourceURLs extracts the URLs of the sub-resources a page pulls in:
// stylesheets, scripts, images and media sources. Relative references are
// resolved against the document's <base href> when present, otherwise
// against the page URL itself.
func subresourceURLs(doc []byte, pageURL string) []string {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if href := findBaseHref(root); href != "" {
		if b, err := base.Parse(href); err == nil {
			base = b
		}
	}

	var out []string
	seen := make(map[string]bool)
	add := func(ref string) {
		if ref == "" {
			return
		}
		u, err := base.Parse(ref)
		if err != nil {
			return
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return
		}
		s := u.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	var walk func(n *html.Node, parent string)
	walk = func(n *html.Node, parent string) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "link":
				if strings.Contains(strings.ToLower(attr(n, "rel")), "stylesheet") {
					add(attr(n, "href"))
				}
			case "script", "img":
				add(attr(n, "src"))
			case "source":
				switch parent {
				case "video", "audio":
					add(attr(n, "src"))
				case "picture":
					add(firstSrcsetURL(attr(n, "srcset")))
				}
			}
			parent = n.Data
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, parent)
		}
	}
	walk(root, "")
	return out
}

func findBaseHref(root *html.Node) string {
	var href string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if href != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "base" {
			href = attr(n, "href")
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return href
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// firstSrcsetURL returns the first candidate URL of a srcset attribute,
// stripping the optional width/density descriptor.
func firstSrcsetURL(srcset string) string {
	first, _, _ := strings.Cut(srcset, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
