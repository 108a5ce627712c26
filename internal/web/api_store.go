package web

import (
	"net/http"

	"github.com/renderinc/quillhub/internal/accounts"
	"github.com/renderinc/quillhub/internal/newsletter"
	"github.com/renderinc/quillhub/internal/shop"
)

func (s *Server) handleBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := s.svc.Shop.Brands(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"brands": brands})
}

func (s *Server) handleCreateBrand(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in shop.BrandInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	b, err := s.svc.Shop.CreateBrand(r.Context(), u, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// handleProducts lists active products. Admins pass ?all=1 to include
// inactive listings.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "1" && accounts.IsAdmin(currentUser(r))
	products, err := s.svc.Shop.Products(r.Context(), r.URL.Query().Get("brand"), all)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Shop.Product(r.Context(), r.PathValue("slug"), currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in shop.ProductInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Shop.CreateProduct(r.Context(), u, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in shop.ProductInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.svc.Shop.UpdateProduct(r.Context(), u, r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleAffiliateRedirect counts a click and sends the visitor to the
// merchant.
func (s *Server) handleAffiliateRedirect(w http.ResponseWriter, r *http.Request) {
	target, err := s.svc.Shop.Click(r.Context(), r.PathValue("slug"))
	if err != nil {
		if statusFor(err) == http.StatusNotFound {
			http.NotFound(w, r)
			return
		}
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusFound)
}

type subscribeRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var in subscribeRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.svc.Newsletter.Subscribe(r.Context(), in.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type unsubscribeRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var in unsubscribeRequest
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.svc.Newsletter.Unsubscribe(r.Context(), in.Token, in.Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

func (s *Server) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	subs, err := s.svc.Newsletter.Subscribers(r.Context(), u, r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": subs})
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	campaigns, err := s.svc.Newsletter.Campaigns(r.Context(), u, r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns})
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var in newsletter.CampaignInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	c, err := s.svc.Newsletter.CreateCampaign(r.Context(), u, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// handleSendCampaign queues a campaign. Delivery happens in the worker.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	u, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	c, err := s.svc.Newsletter.QueueCampaign(r.Context(), u, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, c)
}
