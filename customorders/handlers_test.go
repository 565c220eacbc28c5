package customorders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"botstore/models"

	"github.com/julienschmidt/httprouter"
)

func TestHandlers(t *testing.T) {
	repo, _, _ := newRepo(t, Options{})
	h := NewHandlers(repo, nil)
	r := httprouter.New()
	r.POST("/api/custom-orders", h.Create)
	r.GET("/api/custom-orders/track/:tracking", h.Track)
	r.GET("/api/custom-orders/status/:ref", h.Status)
	r.POST("/api/admin/custom-orders/:id/complete", h.Complete)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		return rec
	}

	body, _ := json.Marshal(validRequest())
	rec := do(http.MethodPost, "/api/custom-orders", string(body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	if strings.Contains(rec.Body.String(), "0712345678") {
		t.Fatal("refund account leaked to the public view")
	}
	var created publicView
	json.NewDecoder(rec.Body).Decode(&created)

	rec = do(http.MethodGet, "/api/custom-orders/track/"+created.TrackingNumber, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("track: %d", rec.Code)
	}
	rec = do(http.MethodGet, "/api/custom-orders/status/"+created.RefCode, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"payment_status":"pending"`) {
		t.Fatalf("status: %d %s", rec.Code, rec.Body)
	}

	stored, _ := repo.GetByRefCode(context.Background(), created.RefCode)
	if rec := do(http.MethodPost, "/api/admin/custom-orders/"+stored.ID+"/complete", ""); rec.Code != http.StatusConflict {
		t.Fatalf("complete before payment: %d", rec.Code)
	}
	if _, err := repo.UpdatePaymentStatus(context.Background(), created.RefCode, models.PaymentPaid, models.PaymentEvidence{}); err != nil {
		t.Fatal(err)
	}
	if rec := do(http.MethodPost, "/api/admin/custom-orders/"+stored.ID+"/complete", ""); rec.Code != http.StatusOK {
		t.Fatalf("complete: %d", rec.Code)
	}
	rec = do(http.MethodPost, "/api/admin/custom-orders/"+stored.ID+"/complete", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "already completed") {
		t.Fatalf("replay: %d %s", rec.Code, rec.Body)
	}
	if rec := do(http.MethodGet, "/api/custom-orders/status/BOT-NONE", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown: %d", rec.Code)
	}
}
