package reconcile

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"botstore/errs"
	"botstore/utils"

	"github.com/julienschmidt/httprouter"
)

const SignatureHeader = "X-Signature"

type Handlers struct {
	engine *Engine
	secret []byte
	log    *slog.Logger
}

// NewHandlers wires the engine to HTTP. An empty secret disables webhook
// signature checks and is only meant for local runs.
func NewHandlers(e *Engine, webhookSecret []byte, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	if len(webhookSecret) == 0 {
		log.Warn("WEBHOOK_SECRET not set; payment callbacks are accepted unsigned")
	}
	return &Handlers{engine: e, secret: webhookSecret, log: log}
}

// SubmitManual is POST /api/payments/manual.
func (h *Handlers) SubmitManual(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in ManualReference
	if err := utils.DecodeJSON(r, &in); err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	res, err := h.engine.SubmitManualReference(r.Context(), in)
	if err != nil {
		utils.RespondWithErr(w, h.log, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// GatewayCallback is POST /api/payments/callback.
func (h *Handlers) GatewayCallback(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in GatewayCallback
	if !h.readSigned(w, r, &in) {
		return
	}
	res, err := h.engine.IngestGatewayCallback(r.Context(), in)
	h.ack(w, "gateway", in.RefCode, res, err)
}

// CryptoWebhook is POST /api/payments/crypto-webhook.
func (h *Handlers) CryptoWebhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var in CryptoWebhook
	if !h.readSigned(w, r, &in) {
		return
	}
	res, err := h.engine.IngestCryptoWebhook(r.Context(), in)
	h.ack(w, "crypto", in.RefCode, res, err)
}

func (h *Handlers) readSigned(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	if len(h.secret) > 0 && !ValidSignature(h.secret, body, r.Header.Get(SignatureHeader)) {
		h.log.Warn("rejected unsigned payment callback", "path", r.URL.Path, "remote", r.RemoteAddr)
		utils.RespondWithError(w, http.StatusUnauthorized, "invalid signature")
		return false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := utils.DecodeJSON(r, v); err != nil {
		utils.RespondWithErr(w, h.log, err)
		return false
	}
	return true
}

// ack answers senders that retry on non-2xx. Only failures a retry can fix
// get a 503; everything else is acknowledged so the sender stops.
func (h *Handlers) ack(w http.ResponseWriter, source, ref string, res Result, err error) {
	var ce *errs.ConflictError
	switch {
	case err == nil:
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"ack": true, "result": res})
	case errs.Retryable(err) || errors.As(err, &ce):
		h.log.Warn("payment callback deferred", "source", source, "ref", ref, "err", err)
		utils.RespondWithError(w, http.StatusServiceUnavailable, "temporarily unavailable, please retry")
	default:
		h.log.Warn("payment callback rejected", "source", source, "ref", ref, "err", err)
		utils.RespondWithJSON(w, http.StatusOK, utils.M{"ack": true, "rejected": err.Error(), "result": res})
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

// ValidSignature accepts the bare hex digest or a "sha256=" prefixed one.
func ValidSignature(secret, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	m := hmac.New(sha256.New, secret)
	m.Write(body)
	return hmac.Equal(got, m.Sum(nil))
}
