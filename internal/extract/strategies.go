package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
)

var collapseSpaces = regexp.MustCompile(`[ \t]+`)

// articleStrategy produces the cleaned article text plus basic metadata.
// Selection order follows the usual semantic containers: article, then main,
// then body.
func articleStrategy(minLength int) Strategy {
	return Strategy{
		Name: "article",
		Extract: func(doc *goquery.Document) (map[string]string, string) {
			doc.Find("script, style, noscript").Remove()

			root := doc.Find("article").First()
			if root.Length() == 0 {
				root = doc.Find("main").First()
			}
			if root.Length() == 0 {
				root = doc.Find("body").First()
			}
			text := cleanText(root)

			fields := map[string]string{}
			putNonEmpty(fields, "title", documentTitle(doc))
			putNonEmpty(fields, "author", metaContent(doc, "author"))
			putNonEmpty(fields, "published", publishedTime(doc))
			return fields, text
		},
		Validate: func(record crawl.Record) error {
			if len(record.Text) < minLength {
				return fmt.Errorf("article text too short: %d < %d chars", len(record.Text), minLength)
			}
			return nil
		},
	}
}

// titleStrategy extracts the document title only.
func titleStrategy() Strategy {
	return Strategy{
		Name: "title",
		Extract: func(doc *goquery.Document) (map[string]string, string) {
			fields := map[string]string{}
			putNonEmpty(fields, "title", documentTitle(doc))
			return fields, ""
		},
		Validate: func(record crawl.Record) error {
			if record.Fields["title"] == "" {
				return fmt.Errorf("document has no title")
			}
			return nil
		},
	}
}

// metadataStrategy collects OpenGraph and standard meta tags.
func metadataStrategy() Strategy {
	return Strategy{
		Name: "metadata",
		Extract: func(doc *goquery.Document) (map[string]string, string) {
			fields := map[string]string{}
			putNonEmpty(fields, "title", firstNonEmpty(
				ogContent(doc, "og:title"),
				documentTitle(doc),
			))
			putNonEmpty(fields, "description", firstNonEmpty(
				ogContent(doc, "og:description"),
				metaContent(doc, "description"),
			))
			putNonEmpty(fields, "site_name", ogContent(doc, "og:site_name"))
			putNonEmpty(fields, "author", metaContent(doc, "author"))
			putNonEmpty(fields, "published", publishedTime(doc))
			putNonEmpty(fields, "canonical", attrOf(doc, `link[rel="canonical"]`, "href"))
			return fields, ""
		},
		Validate: func(record crawl.Record) error {
			if len(record.Fields) == 0 {
				return fmt.Errorf("no metadata fields present")
			}
			return nil
		},
	}
}

// cleanText flattens the selection to text, trimming each line and dropping
// empties, matching a get_text(separator="\n", strip=True) shape.
func cleanText(sel *goquery.Selection) string {
	raw := sel.Text()
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(collapseSpaces.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func documentTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func metaContent(doc *goquery.Document, name string) string {
	return attrOf(doc, fmt.Sprintf(`meta[name=%q]`, name), "content")
}

func ogContent(doc *goquery.Document, property string) string {
	return attrOf(doc, fmt.Sprintf(`meta[property=%q]`, property), "content")
}

func publishedTime(doc *goquery.Document) string {
	if v := ogContent(doc, "article:published_time"); v != "" {
		return v
	}
	return attrOf(doc, "time[datetime]", "datetime")
}

func attrOf(doc *goquery.Document, selector, attr string) string {
	value, _ := doc.Find(selector).First().Attr(attr)
	return strings.TrimSpace(value)
}

func putNonEmpty(fields map[string]string, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
