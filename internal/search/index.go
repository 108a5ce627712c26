// Package search keeps a bleve full-text index of published posts.
package search

import (
	"errors"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/renderinc/quillhub/internal/content"
	"github.com/renderinc/quillhub/internal/storage"
)

var (
	// ErrEmptyQuery is returned for blank search strings.
	ErrEmptyQuery = errors.New("empty search query")
	// ErrBadQuery is returned when a query string does not parse.
	ErrBadQuery = errors.New("malformed search query")
)

// Index wraps a Bleve search index
type Index struct {
	index bleve.Index
}

// IndexedPost is the document stored for each published post
type IndexedPost struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Content     string    `json:"content"` // visible text, not markdown
	Excerpt     string    `json:"excerpt"`
	Author      string    `json:"author"`
	Tags        []string  `json:"tags"`
	PublishedAt time.Time `json:"published_at"`
}

// Hit is one search result
type Hit struct {
	ID        string              `json:"id"`
	Slug      string              `json:"slug"`
	Title     string              `json:"title"`
	Author    string              `json:"author"`
	Excerpt   string              `json:"excerpt"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"` // Highlighted snippets
}

// Results is a page of hits
type Results struct {
	Query string `json:"query"`
	Total uint64 `json:"total"`
	Hits  []*Hit `json:"hits"`
}

// Open opens or creates a Bleve index at path. The index files are locked by
// the process holding them; a second Open gives up after lockTimeout instead
// of waiting for the lock forever.
func Open(path string, lockTimeout time.Duration) (*Index, error) {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	idx, err := bleve.OpenUsing(path, map[string]interface{}{
		"bolt_timeout": lockTimeout.String(),
	})
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index %s (is another process using it?): %w", path, err)
	}

	return &Index{index: idx}, nil
}

// OpenMem creates an in-memory index
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

// buildIndexMapping uses the English analyzer for prose fields so searches
// match across word forms.
func buildIndexMapping() mapping.IndexMapping {
	english := bleve.NewTextFieldMapping()
	english.Analyzer = "en"

	keyword := bleve.NewTextFieldMapping()
	keyword.Analyzer = "keyword"

	stored := bleve.NewTextFieldMapping()
	stored.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("id", keyword)
	docMapping.AddFieldMappingsAt("slug", keyword)
	docMapping.AddFieldMappingsAt("title", english)
	docMapping.AddFieldMappingsAt("content", english)
	docMapping.AddFieldMappingsAt("excerpt", stored)
	docMapping.AddFieldMappingsAt("author", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("tags", keyword)
	docMapping.AddFieldMappingsAt("published_at", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = "en"

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// document converts a post to its indexed form
func document(p *storage.Post) (*IndexedPost, error) {
	text, err := content.PlainText(p.ContentHTML)
	if err != nil {
		return nil, err
	}
	doc := &IndexedPost{
		ID:      p.ID,
		Slug:    p.Slug,
		Title:   p.Title,
		Content: text,
		Excerpt: p.Excerpt,
		Author:  p.AuthorName,
		Tags:    p.Tags,
	}
	if p.PublishedAt != nil {
		doc.PublishedAt = *p.PublishedAt
	}
	return doc, nil
}

// IndexPost adds or updates a published post
func (i *Index) IndexPost(p *storage.Post) error {
	doc, err := document(p)
	if err != nil {
		return fmt.Errorf("index post %s: %w", p.ID, err)
	}
	return i.index.Index(doc.ID, doc)
}

// DeletePost removes a post from the index
func (i *Index) DeletePost(id string) error {
	return i.index.Delete(id)
}

// Search runs a query string query (supports quotes, +/- and field:term) and
// returns hits with highlighted fragments. Title matches weigh three times
// as much as body matches.
func (i *Index) Search(queryStr string, limit, offset int) (*Results, error) {
	if queryStr == "" {
		return nil, ErrEmptyQuery
	}

	body := bleve.NewQueryStringQuery(queryStr)
	if _, err := body.Parse(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	title := bleve.NewMatchQuery(queryStr)
	title.SetField("title")
	title.SetBoost(3)
	query := bleve.NewDisjunctionQuery(body, title)

	search := bleve.NewSearchRequestOptions(query, limit, offset, false)
	search.Highlight = bleve.NewHighlightWithStyle("html")
	search.Highlight.AddField("title")
	search.Highlight.AddField("content")
	search.Fields = []string{"slug", "title", "author", "excerpt"}

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	out := &Results{Query: queryStr, Total: results.Total, Hits: []*Hit{}}
	for _, hit := range results.Hits {
		h := &Hit{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}
		if v, ok := hit.Fields["slug"].(string); ok {
			h.Slug = v
		}
		if v, ok := hit.Fields["title"].(string); ok {
			h.Title = v
		}
		if v, ok := hit.Fields["author"].(string); ok {
			h.Author = v
		}
		if v, ok := hit.Fields["excerpt"].(string); ok {
			h.Excerpt = v
		}
		out.Hits = append(out.Hits, h)
	}

	return out, nil
}

// Rebuild makes the index hold exactly posts: they are indexed in one batch
// and any other document is removed.
func (i *Index) Rebuild(posts []*storage.Post) error {
	keep := make(map[string]bool, len(posts))
	batch := i.index.NewBatch()
	for _, p := range posts {
		doc, err := document(p)
		if err != nil {
			return fmt.Errorf("index post %s: %w", p.ID, err)
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return fmt.Errorf("batch index %s: %w", p.ID, err)
		}
		keep[p.ID] = true
	}

	stale, err := i.ids()
	if err != nil {
		return err
	}
	for _, id := range stale {
		if !keep[id] {
			batch.Delete(id)
		}
	}

	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// ids lists every document ID in the index
func (i *Index) ids() ([]string, error) {
	n, err := i.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	res, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of documents in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
