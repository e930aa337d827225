package chrome

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// countMatches counts elements of an HTML document matching a CSS selector.
// cascadia's :contains("text") extension is supported, which
// document.querySelectorAll rejects.
func countMatches(document, selector string) (int, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return 0, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return 0, fmt.Errorf("parse document: %w", err)
	}
	return doc.FindMatcher(sel).Length(), nil
}
