package content

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"golang.org/x/net/html"
)

// WordsPerMinute is the reading speed used for reading-time estimates.
const WordsPerMinute = 200

// ExcerptLength is the default excerpt size in runes.
const ExcerptLength = 280

var (
	markdown = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Typographer),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	postPolicy    = bluemonday.UGCPolicy()
	commentPolicy = bluemonday.StrictPolicy()
)

// Rendered is the derived form of a post body.
type Rendered struct {
	HTML           string
	Excerpt        string
	Words          int
	ReadingMinutes int
}

// Render converts markdown to sanitised HTML and derives the excerpt and
// reading time from the visible text.
func Render(source string) (*Rendered, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(source), &buf); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	safe := postPolicy.Sanitize(buf.String())

	text, err := PlainText(safe)
	if err != nil {
		return nil, err
	}
	words := len(strings.Fields(text))

	return &Rendered{
		HTML:           safe,
		Excerpt:        Excerpt(text, ExcerptLength),
		Words:          words,
		ReadingMinutes: ReadingMinutes(words),
	}, nil
}

// SanitizeComment strips all markup from a comment body.
func SanitizeComment(body string) string {
	return strings.TrimSpace(commentPolicy.Sanitize(body))
}

// PlainText returns the visible text of an HTML fragment with whitespace
// collapsed. Script and style contents are skipped.
func PlainText(fragment string) (string, error) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(sb.String()), " "), nil
}

// Excerpt shortens text to at most max runes, cutting at a word boundary
// and appending an ellipsis when anything was removed.
func Excerpt(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:max])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

// ReadingMinutes estimates reading time, never less than one minute.
func ReadingMinutes(words int) int {
	m := int(math.Ceil(float64(words) / WordsPerMinute))
	if m < 1 {
		return 1
	}
	return m
}
