package notify

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template names.
const (
	CustomOrderReceived   = "custom_order_received"
	PaymentReceivedClient = "payment_received_client"
	PaymentReceivedAdmin  = "payment_received_admin"
	CustomOrderCompleted  = "custom_order_completed"
	CustomOrderRefunded   = "custom_order_refunded"
	PurchaseConfirmed     = "purchase_confirmed"
)

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

func mustTemplate(name, subject, body string) mailTemplate {
	return mailTemplate{
		subject: template.Must(template.New(name + ".subject").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Parse(body)),
	}
}

var templates = map[string]mailTemplate{
	CustomOrderReceived: mustTemplate(CustomOrderReceived,
		"We received your custom bot request {{.RefCode}}",
		`Thanks for your request.

Reference:       {{.RefCode}}
Tracking number: {{.TrackingNumber}}
Budget:          {{printf "%.2f" .Budget}}

Use the tracking number to check progress at any time.
`),
	PaymentReceivedClient: mustTemplate(PaymentReceivedClient,
		"Payment received for {{.RefCode}}",
		`We have received your payment for order {{.RefCode}}.
Work on your bot starts now. Tracking number: {{.TrackingNumber}}
`),
	PaymentReceivedAdmin: mustTemplate(PaymentReceivedAdmin,
		"[admin] {{.RefCode}} paid",
		`Custom order {{.RefCode}} is paid ({{printf "%.2f" .Budget}}).
Client: {{.ClientEmail}}
Evidence: {{.Evidence}}
`),
	CustomOrderCompleted: mustTemplate(CustomOrderCompleted,
		"Your custom bot {{.RefCode}} is ready",
		`Your custom bot for order {{.RefCode}} has been delivered.
Tracking number: {{.TrackingNumber}}
`),
	CustomOrderRefunded: mustTemplate(CustomOrderRefunded,
		"Order {{.RefCode}} refunded",
		`Your order {{.RefCode}} has been refunded to your {{.RefundMethod}} account.
Reason: {{.Reason}}
{{if .Message}}
{{.Message}}
{{end}}`),
	PurchaseConfirmed: mustTemplate(PurchaseConfirmed,
		"Your purchase {{.RefCode}} is confirmed",
		`Payment for {{.ItemName}} ({{.RefCode}}) is confirmed.
Download: {{.DownloadURL}}
`),
}

// Render produces the subject and body for a template.
func Render(name string, data any) (subject, body string, err error) {
	t, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}
	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return sb.String(), bb.String(), nil
}
