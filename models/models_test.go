package models

import "testing"

func TestOrderStatusBuckets(t *testing.T) {
	cases := map[OrderStatus]StatusBucket{
		OrderNoPayment:        BucketNoPayment,
		OrderFailed:           BucketNoPayment,
		OrderPending:          BucketPending,
		OrderPartialPayment:   BucketPending,
		OrderConfirmedManual:  BucketConfirmed,
		OrderConfirmedGateway: BucketConfirmed,
		OrderConfirmedCrypto:  BucketConfirmed,
		OrderConfirmed:        BucketConfirmed,
	}
	for status, want := range cases {
		if got := status.Bucket(); got != want {
			t.Errorf("%s.Bucket() = %s, want %s", status, got, want)
		}
	}
	if OrderStatus("Confirmed ").Valid() {
		t.Fatal("free-form status must not validate")
	}
}

func TestPaymentTransitions(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentPending, PaymentPaid, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentPaid, PaymentFailed, true},
		{PaymentPaid, PaymentPending, false},
		{PaymentFailed, PaymentPaid, false},
		{PaymentFailed, PaymentPending, false},
	}
	for _, c := range cases {
		if got := c.from.CanMoveTo(c.to); got != c.ok {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestAmountMatchesIncludesEdges(t *testing.T) {
	for _, c := range []struct {
		got  float64
		want bool
	}{
		{50, true}, {49.99, true}, {50.01, true}, {50.02, false}, {49.98, false}, {0.1 + 0.2 + 49.69, true},
	} {
		if ok := AmountMatches(c.got, 50, 0.01); ok != c.want {
			t.Errorf("AmountMatches(%v, 50, 0.01) = %v, want %v", c.got, ok, c.want)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := Settings{}
	links, _ := EncodeSocialLinks(map[string]string{"telegram": "https://t.me/bots"})
	urgent, _ := EncodeUrgentMessage(UrgentMessage{Enabled: true, Text: "maintenance tonight"})
	methods, _ := EncodePaymentMethods([]PaymentMethod{PaymentCrypto, PaymentMpesaTill, PaymentCrypto})
	s[SettingSocialLinks] = links
	s[SettingUrgentMessage] = urgent
	s[SettingPaymentMethods] = methods

	gotLinks, err := s.SocialLinks()
	if err != nil || gotLinks["telegram"] != "https://t.me/bots" {
		t.Fatalf("social links = %v, %v", gotLinks, err)
	}
	gotUrgent, err := s.UrgentMessage()
	if err != nil || !gotUrgent.Enabled || gotUrgent.Text != "maintenance tonight" {
		t.Fatalf("urgent = %+v, %v", gotUrgent, err)
	}
	active, err := s.ActivePaymentMethods()
	if err != nil {
		t.Fatal(err)
	}
	if !active[PaymentCrypto] || !active[PaymentMpesaTill] || active[PaymentMpesaPush] {
		t.Fatalf("unexpected active set %v", active)
	}
}

func TestActivePaymentMethodsDefaultsToAll(t *testing.T) {
	active, err := Settings{}.ActivePaymentMethods()
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range AllPaymentMethods {
		if !active[m] {
			t.Errorf("%s should be active by default", m)
		}
	}
}
