// Package seo renders the machine-readable surfaces of the site: the XML
// sitemap, RSS and Atom feeds, schema.org JSON-LD and robots.txt.
package seo

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"github.com/renderinc/quillhub/internal/storage"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// Site describes the public site.
type Site struct {
	Name        string
	BaseURL     string // without trailing slash
	Description string
}

// NewSite returns a Site with the base URL normalised.
func NewSite(name, baseURL, description string) Site {
	return Site{Name: name, BaseURL: strings.TrimRight(baseURL, "/"), Description: description}
}

// PostURL is the canonical URL of a post.
func (s Site) PostURL(p *storage.Post) string {
	return s.BaseURL + "/posts/" + p.Slug
}

// AuthorURL is the public page of an author.
func (s Site) AuthorURL(username string) string {
	return s.BaseURL + "/authors/" + username
}

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	Xmlns   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// Sitemap renders the sitemap for the home page, the store, every category
// and every published post.
func (s Site) Sitemap(posts []*storage.Post, categories []*storage.Category) ([]byte, error) {
	set := urlset{Xmlns: sitemapNS}
	set.URLs = append(set.URLs,
		sitemapURL{Loc: s.BaseURL + "/", ChangeFreq: "daily", Priority: "1.0"},
		sitemapURL{Loc: s.BaseURL + "/store", ChangeFreq: "weekly", Priority: "0.5"},
	)
	for _, c := range categories {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        s.BaseURL + "/category/" + c.Slug,
			ChangeFreq: "weekly",
			Priority:   "0.6",
		})
	}
	for _, p := range posts {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        s.PostURL(p),
			LastMod:    p.UpdatedAt.UTC().Format("2006-01-02"),
			ChangeFreq: "monthly",
			Priority:   "0.8",
		})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal sitemap: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// Robots renders robots.txt.
func (s Site) Robots() string {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	b.WriteString("Disallow: /api/\n")
	b.WriteString("Disallow: /go/\n")
	b.WriteString("\n")
	b.WriteString("Sitemap: " + s.BaseURL + "/sitemap.xml\n")
	return b.String()
}

// Feed builds a feed of posts, newest first.
func (s Site) Feed(posts []*storage.Post) *feeds.Feed {
	feed := &feeds.Feed{
		Title:       s.Name,
		Link:        &feeds.Link{Href: s.BaseURL + "/"},
		Description: s.Description,
		Id:          s.BaseURL + "/",
	}
	for _, p := range posts {
		item := &feeds.Item{
			Id:          s.PostURL(p),
			Title:       p.Title,
			Link:        &feeds.Link{Href: s.PostURL(p)},
			Description: p.Excerpt,
			Content:     p.ContentHTML,
			Author:      &feeds.Author{Name: p.AuthorName},
			Updated:     p.UpdatedAt,
		}
		if p.PublishedAt != nil {
			item.Created = *p.PublishedAt
		}
		if item.Created.After(feed.Created) {
			feed.Created = item.Created
		}
		if p.UpdatedAt.After(feed.Updated) {
			feed.Updated = p.UpdatedAt
		}
		feed.Items = append(feed.Items, item)
	}
	return feed
}

// RSS renders posts as RSS 2.0.
func (s Site) RSS(posts []*storage.Post) (string, error) {
	return s.Feed(posts).ToRss()
}

// Atom renders posts as Atom 1.0.
func (s Site) Atom(posts []*storage.Post) (string, error) {
	return s.Feed(posts).ToAtom()
}

// Person is a schema.org Person or Organization.
type Person struct {
	Type string `json:"@type"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// BlogPosting is the schema.org markup of a post page.
type BlogPosting struct {
	Context        string `json:"@context"`
	Type           string `json:"@type"`
	Headline       string `json:"headline"`
	Description    string `json:"description,omitempty"`
	URL            string `json:"url"`
	Image          string `json:"image,omitempty"`
	DatePublished  string `json:"datePublished,omitempty"`
	DateModified   string `json:"dateModified"`
	Author         Person `json:"author"`
	Publisher      Person `json:"publisher"`
	Keywords       string `json:"keywords,omitempty"`
	ArticleSection string `json:"articleSection,omitempty"`
	TimeRequired   string `json:"timeRequired,omitempty"`
}

// PostLD builds the JSON-LD for a post. category may be nil.
func (s Site) PostLD(p *storage.Post, category *storage.Category) ([]byte, error) {
	ld := BlogPosting{
		Context:      "https://schema.org",
		Type:         "BlogPosting",
		Headline:     p.Title,
		Description:  p.Excerpt,
		URL:          s.PostURL(p),
		Image:        p.CoverImage,
		DateModified: p.UpdatedAt.UTC().Format(time.RFC3339),
		Author:       Person{Type: "Person", Name: p.AuthorName, URL: s.AuthorURL(p.AuthorUsername)},
		Publisher:    Person{Type: "Organization", Name: s.Name, URL: s.BaseURL + "/"},
		Keywords:     strings.Join(p.Tags, ", "),
	}
	if p.PublishedAt != nil {
		ld.DatePublished = p.PublishedAt.UTC().Format(time.RFC3339)
	}
	if category != nil {
		ld.ArticleSection = category.Name
	}
	if p.ReadingMinutes > 0 {
		ld.TimeRequired = fmt.Sprintf("PT%dM", p.ReadingMinutes)
	}
	return json.MarshalIndent(ld, "", "  ")
}

// Offer is a schema.org Offer.
type Offer struct {
	Type          string `json:"@type"`
	Price         string `json:"price"`
	PriceCurrency string `json:"priceCurrency"`
	URL           string `json:"url"`
	Availability  string `json:"availability"`
}

// Brand is a schema.org Brand.
type Brand struct {
	Type string `json:"@type"`
	Name string `json:"name"`
}

// ProductLD is the schema.org markup of a store listing.
type ProductLD struct {
	Context     string `json:"@context"`
	Type        string `json:"@type"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	Brand       *Brand `json:"brand,omitempty"`
	Offers      Offer  `json:"offers"`
}

// ProductLD builds the JSON-LD for a product. The offer URL is the tracked
// affiliate redirect.
func (s Site) ProductLD(p *storage.Product) ([]byte, error) {
	ld := ProductLD{
		Context:     "https://schema.org",
		Type:        "Product",
		Name:        p.Name,
		Description: p.Description,
		Image:       p.ImageURL,
		Offers: Offer{
			Type:          "Offer",
			Price:         FormatPrice(p.PriceCents),
			PriceCurrency: p.Currency,
			URL:           s.BaseURL + "/go/" + p.Slug,
			Availability:  "https://schema.org/InStock",
		},
	}
	if p.BrandName != "" {
		ld.Brand = &Brand{Type: "Brand", Name: p.BrandName}
	}
	return json.MarshalIndent(ld, "", "  ")
}

// FormatPrice renders cents as a decimal amount.
func FormatPrice(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
