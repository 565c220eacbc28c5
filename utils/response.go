package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"botstore/errs"
)

type M map[string]any

func RespondWithError(w http.ResponseWriter, code int, msg string) {
	RespondWithJSON(w, code, M{"error": msg})
}

// Sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// RespondWithErr maps the error taxonomy onto a status code and body.
// Unknown errors are logged and answered with a generic 500.
func RespondWithErr(w http.ResponseWriter, log *slog.Logger, err error) {
	var (
		ve *errs.ValidationError
		nf *errs.NotFoundError
		it *errs.InvalidTransitionError
		am *errs.AmountMismatchError
		te *errs.TransientError
		ce *errs.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		RespondWithJSON(w, http.StatusUnprocessableEntity, M{"error": "validation failed", "fields": ve.Fields})
	case errors.As(err, &nf):
		RespondWithError(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &it):
		RespondWithJSON(w, http.StatusConflict, M{"error": it.Error(), "from": it.From, "to": it.To})
	case errors.As(err, &ce):
		RespondWithJSON(w, http.StatusConflict, M{"error": ce.Error(), "state": ce.State})
	case errors.As(err, &am):
		RespondWithJSON(w, http.StatusUnprocessableEntity, M{"error": "amount mismatch", "expected": am.Expected, "got": am.Got})
	case errors.As(err, &te):
		if log != nil {
			log.Warn("transient failure", "op", te.Op, "err", te.Err)
		}
		RespondWithError(w, http.StatusServiceUnavailable, "temporarily unavailable, please try again")
	default:
		if log != nil {
			log.Error("unhandled error", "err", err)
		}
		RespondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

const maxBody = 1 << 20

// DecodeJSON reads a bounded JSON body into v. Malformed input is a
// ValidationError on the "body" field.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return errs.Invalid("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	return nil
}
