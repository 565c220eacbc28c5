// Command opsconsole follows order activity live from the operator channel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"botstore/fanout"
	"botstore/models"
)

type console struct {
	base  string
	token string
	http  *http.Client
	view  *fanout.View
	out   io.Writer
}

func (c *console) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// refresh rebuilds the view from the admin lists.
func (c *console) refresh(ctx context.Context) error {
	var (
		simple []models.Order
		custom []models.CustomBotOrder
	)
	if err := c.getJSON(ctx, "/api/admin/orders?limit=200", &simple); err != nil {
		return err
	}
	if err := c.getJSON(ctx, "/api/admin/custom-orders?limit=200", &custom); err != nil {
		return err
	}
	rows := make([]models.Event, 0, len(simple)+len(custom))
	for _, o := range simple {
		rows = append(rows, fanout.NewOrderEvent(o, "loaded", o.UpdatedAt))
	}
	for _, o := range custom {
		rows = append(rows, fanout.NewCustomOrderEvent(o, "loaded", o.UpdatedAt))
	}
	c.view.Replace(rows)
	fmt.Fprintf(c.out, "-- %d orders loaded --\n", c.view.Len())
	for _, r := range c.view.Rows() {
		c.print(r)
	}
	return nil
}

func (c *console) print(ev models.Event) {
	line := fmt.Sprintf("%s  %-13s %-22s %-18s", ev.At.Local().Format("15:04:05"), ev.EntityType, ev.Key(), ev.NewState)
	if ev.PaymentStatus != "" {
		line += " payment=" + string(ev.PaymentStatus)
	}
	if ev.Detail != "" {
		line += "  " + ev.Detail
	}
	fmt.Fprintln(c.out, line)
}

func (c *console) onEvent(ev models.Event) {
	if ev.EntityType == models.EntityPaymentAudit {
		fmt.Fprint(c.out, "AUDIT ")
		c.print(ev)
		return
	}
	if c.view.Apply(ev) {
		c.print(ev)
	}
}

func (c *console) onState(s fanout.ClientState) {
	switch s {
	case fanout.StateReconnecting:
		fmt.Fprintln(c.out, "-- reconnecting... --")
	case fanout.StateConnected:
		fmt.Fprintln(c.out, "-- live --")
	}
}

func wsURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/admin/events"
	return u.String(), nil
}

func main() {
	server := flag.String("server", "http://localhost:8080", "store base URL")
	token := flag.String("token", os.Getenv("ADMIN_TOKEN"), "admin JWT (default $ADMIN_TOKEN)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if *token == "" {
		log.Error("an admin token is required (-token or ADMIN_TOKEN)")
		os.Exit(2)
	}
	base := strings.TrimRight(*server, "/")
	ws, err := wsURL(base)
	if err != nil {
		log.Error("bad server URL", "err", err)
		os.Exit(2)
	}

	c := &console{
		base:  base,
		token: *token,
		http:  &http.Client{Timeout: 15 * time.Second},
		view:  fanout.NewView(),
		out:   os.Stdout,
	}
	client := &fanout.Client{
		URL:     ws,
		Header:  http.Header{"Authorization": []string{"Bearer " + *token}},
		Refresh: c.refresh,
		OnEvent: c.onEvent,
		OnState: c.onState,
		Logger:  log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("console stopped", "err", err)
		os.Exit(1)
	}
}
