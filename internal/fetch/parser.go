package fetch

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/corpusgraph/weaver/internal/urlnorm"
)

// mainContentSelectors is the fixed selector list tried in order; the first
// match with non-empty text wins. Falling back to <body> otherwise.
var mainContentSelectors = []string{
	"main", "article", ".content", "#content", "#bodyContent", ".mw-parser-output",
}

var wikiNamespacePrefixes = []string{
	"Wikipedia:", "Special:", "Portal:", "Help:", "Template:",
	"Category:", "File:", "Media:", "Talk:", "User:", "User_talk:", "Main_Page",
}

var skipSectionHeadings = []string{
	"references", "citations", "external links", "further reading",
	"bibliography", "notes", "sources",
}

var titleSuffixRe = regexp.MustCompile(`\s*[-–—|]\s*[^-–—|]+$`)

// LinkContext is a discovered outbound link enriched with its in-page
// context, for dynamic-source encoded-discovered snippets.
type LinkContext struct {
	URL        string
	Snippet    string
	AnchorText string
}

// Options carries the page-specific facts the skip rules need.
type Options struct {
	// CurrentURL is the canonical URL of the page being parsed.
	CurrentURL string
	// SameDomainOnly, when true, drops cross-domain links (skip rule 4).
	SameDomainOnly bool
}

// Parsed is the result of parsing one fetched page.
type Parsed struct {
	Title   string
	Content string
}

// ParsePage extracts the title and truncated main-content text of body.
func ParsePage(body string) (*Parsed, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &Parsed{
		Title:   pageTitle(doc),
		Content: mainContentText(doc),
	}, nil
}

// StripTitleSuffix removes a well-known "Article – Site Name" site suffix,
// used only to derive a source label, never the stored page title.
func StripTitleSuffix(title string) string {
	return strings.TrimSpace(titleSuffixRe.ReplaceAllString(title, ""))
}

func pageTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	return "Untitled"
}

func mainContentSelection(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainContentSelectors {
		content := doc.Find(sel).First()
		if content.Length() > 0 && strings.TrimSpace(content.Text()) != "" {
			return content
		}
	}
	return doc.Find("body").First()
}

func mainContentText(doc *goquery.Document) string {
	text := strings.TrimSpace(mainContentSelection(doc).Text())
	if len(text) > 50000 {
		text = text[:50000]
	}
	return text
}

// ExtractLinks returns the canonical, de-duplicated, skip-rule-filtered
// outbound links of body.
func ExtractLinks(body string, opts Options) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	content := mainContentSelection(doc)
	skip := skippedNodes(content)

	seen := make(map[string]bool)
	var out []string

	content.Find("a").Each(func(_ int, a *goquery.Selection) {
		if skip[a.Get(0)] || hasSkippedAncestor(a, skip) {
			return
		}
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		canon, ok := resolveAndFilter(href, opts)
		if !ok || seen[canon] {
			return
		}
		seen[canon] = true
		out = append(out, canon)
	})

	return out, nil
}

// ExtractLinksWithContext is ExtractLinks plus a ~200-character window of
// surrounding text and the anchor text, for dynamic-source suggestions.
func ExtractLinksWithContext(body string, opts Options) ([]LinkContext, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	content := mainContentSelection(doc)
	skip := skippedNodes(content)

	seen := make(map[string]bool)
	var out []LinkContext

	content.Find("a").Each(func(_ int, a *goquery.Selection) {
		if skip[a.Get(0)] || hasSkippedAncestor(a, skip) {
			return
		}
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		canon, ok := resolveAndFilter(href, opts)
		if !ok || seen[canon] {
			return
		}
		seen[canon] = true

		anchor := strings.TrimSpace(a.Text())
		out = append(out, LinkContext{
			URL:        canon,
			AnchorText: anchor,
			Snippet:    snippetFor(a, anchor),
		})
	})

	return out, nil
}

// resolveAndFilter resolves href against opts.CurrentURL and applies the
// skip rules common to both extraction modes. It returns the canonical URL
// and whether the link survives.
func resolveAndFilter(href string, opts Options) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}

	base, err := url.Parse(opts.CurrentURL)
	if err != nil {
		return "", false
	}
	rel, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(rel)

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	if strings.HasSuffix(strings.ToLower(resolved.Path), ".pdf") {
		return "", false
	}
	if isWikiNamespacePath(resolved.Path) {
		return "", false
	}

	canon := urlnorm.Normalize(resolved.String())
	if canon == opts.CurrentURL {
		return "", false
	}
	if opts.SameDomainOnly && !sameDomain(base.Host, resolved.Host) {
		return "", false
	}

	return canon, true
}

func isWikiNamespacePath(path string) bool {
	segment := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		segment = path[i+1:]
	}
	for _, prefix := range wikiNamespacePrefixes {
		if segment == prefix || strings.HasPrefix(segment, prefix) {
			return true
		}
	}
	return false
}

func sameDomain(a, b string) bool {
	a = strings.TrimPrefix(strings.ToLower(a), "www.")
	b = strings.TrimPrefix(strings.ToLower(b), "www.")
	if a == b {
		return true
	}
	return strings.HasSuffix(a, "."+b) || strings.HasSuffix(b, "."+a)
}

// skippedNodes marks every node under a heading that matches one of the
// skip-section headings, up to (not including) the next same-level-or-
// shallower heading, as skipped.
func skippedNodes(content *goquery.Selection) map[*html.Node]bool {
	skip := make(map[*html.Node]bool)

	content.Find("h1,h2,h3,h4,h5,h6").Each(func(_ int, heading *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(heading.Text()))
		if !isSkipHeading(text) {
			return
		}
		level := int(goquery.NodeName(heading)[1] - '0')
		stops := make([]string, 0, level)
		for l := 1; l <= level; l++ {
			stops = append(stops, "h"+string(rune('0'+l)))
		}
		heading.NextUntil(strings.Join(stops, ",")).Each(func(_ int, sib *goquery.Selection) {
			markSubtree(sib, skip)
		})
	})

	return skip
}

func markSubtree(sel *goquery.Selection, skip map[*html.Node]bool) {
	node := sel.Get(0)
	if node == nil {
		return
	}
	skip[node] = true
	sel.Find("*").Each(func(_ int, child *goquery.Selection) {
		skip[child.Get(0)] = true
	})
}

func hasSkippedAncestor(sel *goquery.Selection, skip map[*html.Node]bool) bool {
	for n := sel.Get(0).Parent; n != nil; n = n.Parent {
		if skip[n] {
			return true
		}
	}
	return false
}

func isSkipHeading(text string) bool {
	for _, h := range skipSectionHeadings {
		if text == h || strings.HasPrefix(text, h+" ") || strings.HasPrefix(text, h+"(") {
			return true
		}
	}
	return false
}

// snippetFor builds the ~200-character window of text around anchor inside
// its nearest enclosing block, per spec: start-aligned when the anchor is
// near the block start, end-aligned near the end, symmetric otherwise.
func snippetFor(a *goquery.Selection, anchor string) string {
	const window = 200

	block := a.Closest("p, li, td, div.mw-parser-output")
	if block.Length() == 0 {
		return fallbackSnippet(anchor)
	}
	text := strings.TrimSpace(block.Text())
	if len(text) < 20 {
		return fallbackSnippet(anchor)
	}

	idx := strings.Index(text, anchor)
	if idx < 0 {
		return truncate(text, window)
	}

	var start, end int
	switch {
	case idx <= 50:
		start = 0
		end = min(len(text), window)
	case len(text)-(idx+len(anchor)) <= 50:
		end = len(text)
		start = max(0, end-window)
	default:
		half := window / 2
		start = max(0, idx-half)
		end = min(len(text), idx+len(anchor)+half)
	}

	return strings.TrimSpace(text[start:end])
}

func fallbackSnippet(anchor string) string {
	if len(strings.TrimSpace(anchor)) >= 8 {
		return anchor
	}
	return "Link from page"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
