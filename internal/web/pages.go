package web

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/blog"
	"github.com/renderinc/quillhub/internal/newsletter"
	"github.com/renderinc/quillhub/internal/seo"
	"github.com/renderinc/quillhub/internal/storage"
)

const feedSize = 20

var templateFuncs = template.FuncMap{
	// raw marks already-sanitised post HTML as safe.
	"raw":   func(s string) template.HTML { return template.HTML(s) },
	"price": seo.FormatPrice,
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("January 2, 2006")
	},
}

// pageData is the value every page template receives.
type pageData struct {
	Site        seo.Site
	Title       string
	Description string
	Canonical   string
	User        *storage.User
	JSONLD      []template.JS

	Heading    string
	PrevURL    string
	NextURL    string
	Categories []*storage.Category
	Page       *blog.Page
	Post       *storage.Post
	Category   *storage.Category
	Comments   []*storage.Comment
	Profile    *accounts.Profile
	Products   []*storage.Product
	Message    string
}

func (s *Server) newPage(r *http.Request, title string) *pageData {
	return &pageData{
		Site:        s.site,
		Title:       title,
		Description: s.site.Description,
		Canonical:   s.site.BaseURL + r.URL.Path,
		User:        currentUser(r),
	}
}

// paginate sets the newer/older links for a page of posts, keeping the
// other query parameters.
func (d *pageData) paginate(r *http.Request, page *blog.Page) {
	d.Page = page
	link := func(n int) string {
		q := url.Values{}
		for k, v := range r.URL.Query() {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(n))
		return r.URL.Path + "?" + q.Encode()
	}
	if page.Page > 1 {
		d.PrevURL = link(page.Page - 1)
	}
	if page.Page < page.Pages {
		d.NextURL = link(page.Page + 1)
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, status int, data *pageData) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("render template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// renderError shows the message page for err.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	data := s.newPage(r, http.StatusText(status))
	data.Message = http.StatusText(status)
	if status == http.StatusInternalServerError {
		s.logger.Error("page failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.render(w, r, "message.html", status, data)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	page, err := s.svc.Blog.ListPosts(r.Context(), blog.ListQuery{Tag: tag, Page: intParam(r, "page")})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	cats, err := s.svc.Blog.Categories(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	data := s.newPage(r, s.site.Name)
	data.Heading = "Latest posts"
	if tag != "" {
		data.Heading = "Posts tagged " + tag
	}
	data.paginate(r, page)
	data.Categories = cats
	s.render(w, r, "index.html", http.StatusOK, data)
}

func (s *Server) handlePostPage(w http.ResponseWriter, r *http.Request) {
	viewer := currentUser(r)
	p, err := s.svc.Blog.GetPostBySlug(r.Context(), r.PathValue("slug"), viewer)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	data := s.newPage(r, p.Title+" | "+s.site.Name)
	data.Post = p
	data.Description = p.Excerpt
	data.Canonical = s.site.PostURL(p)

	if p.CategoryID != nil {
		cats, err := s.svc.Blog.Categories(r.Context())
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		for _, c := range cats {
			if c.ID == *p.CategoryID {
				data.Category = c
			}
		}
	}
	if p.Status == storage.PostPublished {
		if data.Comments, err = s.svc.Blog.Comments(r.Context(), p.ID, viewer); err != nil {
			s.renderError(w, r, err)
			return
		}
	}

	ld, err := s.site.PostLD(p, data.Category)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	data.JSONLD = append(data.JSONLD, template.JS(ld))
	s.render(w, r, "post.html", http.StatusOK, data)
}

func (s *Server) handleCategoryPage(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	cats, err := s.svc.Blog.Categories(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	var cat *storage.Category
	for _, c := range cats {
		if c.Slug == slug {
			cat = c
		}
	}
	if cat == nil {
		s.renderError(w, r, storage.ErrNotFound)
		return
	}

	page, err := s.svc.Blog.ListPosts(r.Context(), blog.ListQuery{Category: slug, Page: intParam(r, "page")})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	data := s.newPage(r, cat.Name+" | "+s.site.Name)
	data.Heading = cat.Name
	if cat.Description != "" {
		data.Description = cat.Description
	}
	data.Category = cat
	data.Categories = cats
	data.paginate(r, page)
	s.render(w, r, "index.html", http.StatusOK, data)
}

func (s *Server) handleAuthorPage(w http.ResponseWriter, r *http.Request) {
	profile, err := s.svc.Accounts.Profile(r.Context(), r.PathValue("username"), currentUser(r))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	page, err := s.svc.Blog.ListPosts(r.Context(), blog.ListQuery{Author: profile.User.Username, Page: intParam(r, "page")})
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	data := s.newPage(r, profile.User.DisplayName+" | "+s.site.Name)
	data.Heading = "Posts by " + profile.User.DisplayName
	if profile.User.Bio != "" {
		data.Description = profile.User.Bio
	}
	data.Profile = profile
	data.paginate(r, page)
	s.render(w, r, "index.html", http.StatusOK, data)
}

func (s *Server) handleStorePage(w http.ResponseWriter, r *http.Request) {
	products, err := s.svc.Shop.Products(r.Context(), "", false)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	data := s.newPage(r, "Store | "+s.site.Name)
	data.Heading = "Store"
	data.Products = products
	for _, p := range products {
		ld, err := s.site.ProductLD(p)
		if err != nil {
			s.renderError(w, r, err)
			return
		}
		data.JSONLD = append(data.JSONLD, template.JS(ld))
	}
	s.render(w, r, "store.html", http.StatusOK, data)
}

// handleUnsubscribePage is the target of the link in every campaign email.
func (s *Server) handleUnsubscribePage(w http.ResponseWriter, r *http.Request) {
	data := s.newPage(r, "Newsletter | "+s.site.Name)
	status := http.StatusOK

	err := s.svc.Newsletter.Unsubscribe(r.Context(), r.URL.Query().Get("token"), "")
	switch {
	case err == nil:
		data.Message = "You have been unsubscribed. You will not receive further emails."
	case errors.Is(err, newsletter.ErrAlreadyUnsubscribed):
		data.Message = "This address is already unsubscribed."
	case errors.Is(err, accounts.ErrInvalid), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		data.Message = "This unsubscribe link is not valid."
	default:
		s.renderError(w, r, err)
		return
	}
	s.render(w, r, "message.html", status, data)
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	posts, err := s.svc.Blog.Published(r.Context(), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cats, err := s.svc.Blog.Categories(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.site.Sitemap(posts, cats)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Write(out)
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	s.writeFeed(w, r, "application/rss+xml; charset=utf-8", s.site.RSS)
}

func (s *Server) handleAtom(w http.ResponseWriter, r *http.Request) {
	s.writeFeed(w, r, "application/atom+xml; charset=utf-8", s.site.Atom)
}

func (s *Server) writeFeed(w http.ResponseWriter, r *http.Request, contentType string, encode func([]*storage.Post) (string, error)) {
	posts, err := s.svc.Blog.Published(r.Context(), feedSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := encode(posts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write([]byte(out))
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(s.site.Robots()))
}
