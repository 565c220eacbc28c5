package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Well-known settings keys. Structured values are stored as JSON text.
const (
	SettingSocialLinks    = "social_links"
	SettingUrgentMessage  = "urgent_message"
	SettingPaymentMethods = "payment_methods"
	SettingSiteName       = "site_name"
	SettingSupportEmail   = "support_email"
)

// Settings is the raw key/value table.
type Settings map[string]string

type UrgentMessage struct {
	Enabled bool   `json:"enabled"`
	Text    string `json:"text"`
}

func (s Settings) Get(key string) string {
	if s == nil {
		return ""
	}
	return s[key]
}

// SocialLinks decodes the social links map. A missing key yields an empty map.
func (s Settings) SocialLinks() (map[string]string, error) {
	links := map[string]string{}
	raw := s.Get(SettingSocialLinks)
	if raw == "" {
		return links, nil
	}
	if err := json.Unmarshal([]byte(raw), &links); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SettingSocialLinks, err)
	}
	return links, nil
}

func (s Settings) UrgentMessage() (UrgentMessage, error) {
	var m UrgentMessage
	raw := s.Get(SettingUrgentMessage)
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return m, fmt.Errorf("decode %s: %w", SettingUrgentMessage, err)
	}
	return m, nil
}

// ActivePaymentMethods returns the enabled checkout rails. When the key was
// never written every rail is considered active.
func (s Settings) ActivePaymentMethods() (map[PaymentMethod]bool, error) {
	active := map[PaymentMethod]bool{}
	raw := s.Get(SettingPaymentMethods)
	if raw == "" {
		for _, m := range AllPaymentMethods {
			active[m] = true
		}
		return active, nil
	}
	var list []PaymentMethod
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SettingPaymentMethods, err)
	}
	for _, m := range list {
		active[m] = true
	}
	return active, nil
}

// EncodeSocialLinks and friends produce the text form stored in the settings table.
func EncodeSocialLinks(links map[string]string) (string, error) {
	if links == nil {
		links = map[string]string{}
	}
	b, err := json.Marshal(links)
	return string(b), err
}

func EncodeUrgentMessage(m UrgentMessage) (string, error) {
	b, err := json.Marshal(m)
	return string(b), err
}

func EncodePaymentMethods(methods []PaymentMethod) (string, error) {
	seen := map[PaymentMethod]bool{}
	list := make([]PaymentMethod, 0, len(methods))
	for _, m := range methods {
		if !seen[m] {
			seen[m] = true
			list = append(list, m)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	b, err := json.Marshal(list)
	return string(b), err
}
