// Package poller waits on a custom order's payment status over HTTP.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"botstore/errs"
	"botstore/models"
)

var ErrExhausted = errors.New("poller: payment still pending after max attempts")

type Client struct {
	BaseURL     string
	HTTP        *http.Client
	MaxAttempts int
	Interval    time.Duration
	Logger      *slog.Logger
}

type statusBody struct {
	RefCode       string               `json:"ref_code"`
	Status        models.CustomStatus  `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

// Wait polls until the payment is paid or failed. It returns the last seen
// status with ErrExhausted when MaxAttempts polls pass without either.
func (c *Client) Wait(ctx context.Context, refCode string) (models.PaymentStatus, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 20
	}
	interval := c.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	log := c.Logger
	if log == nil {
		log = slog.Default()
	}

	last := models.PaymentPending
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-ticker.C:
			}
		}
		st, err := c.fetch(ctx, refCode)
		switch {
		case errs.IsNotFound(err):
			return last, err
		case err != nil:
			log.Warn("payment status poll failed", "ref", refCode, "attempt", i+1, "err", err)
			continue
		}
		last = st
		if st == models.PaymentPaid || st == models.PaymentFailed {
			return st, nil
		}
	}
	return last, ErrExhausted
}

func (c *Client) fetch(ctx context.Context, refCode string) (models.PaymentStatus, error) {
	u := strings.TrimRight(c.BaseURL, "/") + "/api/custom-orders/status/" + url.PathEscape(refCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	hc := c.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errs.NotFound("custom order", refCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("status endpoint answered %d", resp.StatusCode)
	}
	var body statusBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.PaymentStatus, nil
}
