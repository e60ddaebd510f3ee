package fetcher

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractText reduces an HTML page to the text the classifier sees: the
// title, headers, and cleaned body text. Non-HTML content is returned
// verbatim.
func ExtractText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return string(body)
	}

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		b.WriteString(title)
		b.WriteString("\n\n")
	}

	doc.Find("script, style, noscript, nav, footer").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	doc.Find("h1, h2, h3").Each(func(i int, s *goquery.Selection) {
		if h := strings.TrimSpace(s.Text()); h != "" {
			b.WriteString(h)
			b.WriteString("\n")
		}
	})

	text := strings.TrimSpace(doc.Find("body").Text())
	if text == "" {
		// Plain-text or fragment content parses to an empty body.
		return strings.TrimSpace(string(body))
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(collapseWhitespace(text))
	return strings.TrimSpace(b.String())
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
