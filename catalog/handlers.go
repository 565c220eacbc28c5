package catalog

import (
	"net/http"

	"botstore/models"
	"botstore/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// GetCatalog is GET /api/catalog.
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap, err := h.svc.Snapshot(r.Context())
	if err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, snap)
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := h.svc.Product(r.Context(), ps.ByName("item"))
	if err == nil && p.IsArchived {
		utils.RespondWithError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, p)
}

func (h *Handlers) GetPage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	p, err := h.svc.Page(r.Context(), ps.ByName("slug"))
	if err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, p)
}

// --- admin ---

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	products, err := h.svc.Products(r.Context())
	if err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, products)
}

func (h *Handlers) SaveProduct(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in ProductInput
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	p, err := h.svc.SaveProduct(r.Context(), in)
	if err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, p)
}

func (h *Handlers) ArchiveProduct(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Archived bool `json:"archived"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	if err := h.svc.ArchiveProduct(r.Context(), ps.ByName("item"), body.Archived); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AddCategory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body models.Category
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	if err := h.svc.AddCategory(r.Context(), body.Name); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handlers) RemoveCategory(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := h.svc.RemoveCategory(r.Context(), ps.ByName("name")); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveSettings accepts any subset of the structured settings plus raw keys.
func (h *Handlers) SaveSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		UrgentMessage  *models.UrgentMessage `json:"urgent_message"`
		SocialLinks    map[string]string     `json:"social_links"`
		PaymentMethods []models.PaymentMethod `json:"payment_methods"`
		Values         map[string]string     `json:"values"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	ctx := r.Context()
	var err error
	if body.UrgentMessage != nil {
		err = h.svc.SetUrgentMessage(ctx, *body.UrgentMessage)
	}
	if err == nil && body.SocialLinks != nil {
		err = h.svc.SetSocialLinks(ctx, body.SocialLinks)
	}
	if err == nil && body.PaymentMethods != nil {
		err = h.svc.SetPaymentMethods(ctx, body.PaymentMethods)
	}
	for k, v := range body.Values {
		if err != nil {
			break
		}
		err = h.svc.SaveSetting(ctx, k, v)
	}
	if err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	settings, err := h.svc.Settings(ctx)
	if err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, settings)
}

func (h *Handlers) SavePage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var p models.StaticPage
	if err := utils.DecodeJSON(r, &p); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	p.Slug = ps.ByName("slug")
	if err := h.svc.SavePage(r.Context(), p); err != nil {
		utils.RespondWithErr(w, h.svc.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, p)
}
