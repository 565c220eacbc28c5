package orders

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"botstore/errs"
	"botstore/models"
	"botstore/receipt"
	"botstore/utils"

	"github.com/julienschmidt/httprouter"
)

// Products is the catalog surface the order handlers read.
type Products interface {
	Catalog
	// ProductFile returns the stored file reference, which the cached
	// catalog views never carry.
	ProductFile(ctx context.Context, itemID string) (string, error)
}

type Handlers struct {
	repo     *Repository
	products Products
	receipts *receipt.Generator
	filesDir string
	log      *slog.Logger
}

func NewHandlers(repo *Repository, products Products, receipts *receipt.Generator, filesDir string, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{repo: repo, products: products, receipts: receipts, filesDir: filesDir, log: log}
}

type publicOrder struct {
	RefCode       string               `json:"ref_code"`
	ItemID        string               `json:"item_id"`
	Amount        float64              `json:"amount"`
	Status        models.OrderStatus   `json:"status"`
	Bucket        models.StatusBucket  `json:"bucket"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	Downloaded    bool                 `json:"downloaded"`
	DownloadURL   string               `json:"download_url,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

func (h *Handlers) view(o models.Order) publicOrder {
	v := publicOrder{
		RefCode:       o.RefCode,
		ItemID:        o.ItemID,
		Amount:        o.Amount,
		Status:        o.Status,
		Bucket:        o.Status.Bucket(),
		PaymentMethod: o.PaymentMethod,
		Downloaded:    o.Downloaded,
		CreatedAt:     o.CreatedAt,
	}
	if o.Status.Confirmed() {
		v.DownloadURL = h.repo.DownloadURL(o)
	}
	return v
}

// Checkout is POST /api/checkout.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req CreateRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	o, err := h.repo.Create(r.Context(), req)
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, h.view(o))
}

func (h *Handlers) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, err := h.repo.Get(r.Context(), ps.ByName("ref"), ps.ByName("item"))
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, h.view(o))
}

func (h *Handlers) confirmed(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (models.Order, bool) {
	o, err := h.repo.Get(r.Context(), ps.ByName("ref"), ps.ByName("item"))
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return o, false
	}
	if !o.Status.Confirmed() {
		utils.RespondWithJSON(w, http.StatusPaymentRequired, utils.M{"error": "payment not confirmed", "status": o.Status})
		return o, false
	}
	return o, true
}

// Receipt streams the PDF receipt of a confirmed order.
func (h *Handlers) Receipt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, ok := h.confirmed(w, r, ps)
	if !ok {
		return
	}
	p, err := h.products.Product(r.Context(), o.ItemID)
	if err != nil && !errs.IsNotFound(err) {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	if p.Name == "" {
		p.Name = o.ItemID
	}
	var buf bytes.Buffer
	if err := h.receipts.Render(&buf, o, p); err != nil {
		h.log.Error("render receipt", "ref", o.RefCode, "item", o.ItemID, "err", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "failed to generate receipt")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=receipt-"+o.RefCode+".pdf")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Download serves the product file of a confirmed order and marks it downloaded.
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	o, ok := h.confirmed(w, r, ps)
	if !ok {
		return
	}
	ref, err := h.products.ProductFile(r.Context(), o.ItemID)
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	if ref == "" {
		utils.RespondWithError(w, http.StatusNotFound, "no file attached to this item")
		return
	}
	f, err := os.Open(filepath.Join(h.filesDir, filepath.Clean("/"+ref)))
	if err != nil {
		h.log.Error("open product file", "item", o.ItemID, "file", ref, "err", err)
		utils.RespondWithError(w, http.StatusNotFound, "file unavailable")
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		utils.RespondWithError(w, http.StatusInternalServerError, "file unavailable")
		return
	}

	if _, err := h.repo.MarkDownloaded(r.Context(), o.RefCode, o.ItemID); err != nil {
		h.log.Warn("mark downloaded", "ref", o.RefCode, "item", o.ItemID, "err", err)
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(ref))
	http.ServeContent(w, r, filepath.Base(ref), st.ModTime(), f)
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

// UpdateStatus is PUT /api/admin/orders/:item/:ref/status.
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	o, err := h.repo.UpdateStatus(r.Context(), ps.ByName("ref"), ps.ByName("item"), body.Status)
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, o)
}
