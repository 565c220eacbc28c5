package customorders

import (
	"log/slog"
	"net/http"
	"time"

	"botstore/models"
	"botstore/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	repo *Repository
	log  *slog.Logger
}

func NewHandlers(repo *Repository, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{repo: repo, log: log}
}

// publicView is what customers see; refund account details stay admin-only.
type publicView struct {
	RefCode        string               `json:"ref_code"`
	TrackingNumber string               `json:"tracking_number"`
	BudgetAmount   float64              `json:"budget_amount"`
	PaymentMethod  models.Rail          `json:"payment_method"`
	Status         models.CustomStatus  `json:"status"`
	PaymentStatus  models.PaymentStatus `json:"payment_status"`
	RefundReason   models.RefundReason  `json:"refund_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
	RefundedAt     *time.Time           `json:"refunded_at,omitempty"`
}

func toPublic(o models.CustomBotOrder) publicView {
	return publicView{
		RefCode:        o.RefCode,
		TrackingNumber: o.TrackingNumber,
		BudgetAmount:   o.BudgetAmount,
		PaymentMethod:  o.PaymentMethod,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		RefundReason:   o.RefundReason,
		CreatedAt:      o.CreatedAt,
		CompletedAt:    o.CompletedAt,
		RefundedAt:     o.RefundedAt,
	}
}

// Create is POST /api/custom-orders.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req Request
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	o, err := h.repo.Create(r.Context(), req)
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, toPublic(o))
}

func (h *Handlers) Track(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, err := h.repo.GetByTrackingNumber(r.Context(), ps.ByName("tracking"))
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, toPublic(o))
}

// Status is the payment poll target.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, err := h.repo.GetByRefCode(r.Context(), ps.ByName("ref"))
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"ref_code":       o.RefCode,
		"status":         o.Status,
		"payment_status": o.PaymentStatus,
	})
}

// --- admin ---

func (h *Handlers) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := utils.ParseQueryOptions(r)
	list, err := h.repo.List(r.Context(), q.Limit, q.Offset())
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, list)
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, err := h.repo.GetByID(r.Context(), ps.ByName("id"))
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, o)
}

func (h *Handlers) respondOutcome(w http.ResponseWriter, out Outcome, err error) {
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	body := utils.M{"order": out.Order, "changed": out.Changed}
	if out.Already != "" {
		body["message"] = "already " + string(out.Already)
		body["already"] = out.Already
	}
	utils.RespondWithJSON(w, http.StatusOK, body)
}

// Complete is admin_complete.
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	out, err := h.repo.Complete(r.Context(), ps.ByName("id"))
	h.respondOutcome(w, out, err)
}

// Refund is admin_refund.
func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Reason  models.RefundReason `json:"reason"`
		Message string              `json:"message"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	out, err := h.repo.Refund(r.Context(), ps.ByName("id"), body.Reason, body.Message)
	h.respondOutcome(w, out, err)
}
