package models

import (
	"net/netip"
	"strings"
)

// Settings holds the gateway-wide tunables stored in the policy document.
type Settings struct {
	RateLimitPerMinute    int      `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	AllowedIPs            []string `json:"allowed_ips" yaml:"allowed_ips"`
	AuditEnabled          bool     `json:"audit_enabled" yaml:"audit_enabled"`
	AuditRetentionDays    int      `json:"audit_retention_days" yaml:"audit_retention_days"`
	RefreshInterval       int      `json:"refresh_interval" yaml:"refresh_interval"`
	FilterUnavailable     bool     `json:"filter_unavailable" yaml:"filter_unavailable"`
	ConfirmTimeoutSeconds int      `json:"confirm_timeout_seconds" yaml:"confirm_timeout_seconds"`
	ConfirmNotifyService  string   `json:"confirm_notify_service" yaml:"confirm_notify_service"`
	AIName                string   `json:"ai_name" yaml:"ai_name"`
}

// DefaultSettings returns the settings used before anything is configured.
func DefaultSettings() Settings {
	return Settings{
		RateLimitPerMinute:    60,
		AllowedIPs:            []string{},
		AuditEnabled:          true,
		AuditRetentionDays:    30,
		RefreshInterval:       5,
		FilterUnavailable:     true,
		ConfirmTimeoutSeconds: 120,
		AIName:                "AI assistant",
	}
}

// Normalize clamps numeric settings into their accepted ranges and trims lists.
func (s *Settings) Normalize() {
	s.RateLimitPerMinute = clampInt(s.RateLimitPerMinute, 1, 600)
	s.AuditRetentionDays = clampInt(s.AuditRetentionDays, 1, 365)
	s.RefreshInterval = clampInt(s.RefreshInterval, 1, 3600)
	s.ConfirmTimeoutSeconds = clampInt(s.ConfirmTimeoutSeconds, 10, 600)
	s.ConfirmNotifyService = strings.TrimPrefix(strings.TrimSpace(s.ConfirmNotifyService), "notify.")

	ips := make([]string, 0, len(s.AllowedIPs))
	for _, ip := range s.AllowedIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			ips = append(ips, ip)
		}
	}
	s.AllowedIPs = ips
}

// Validate rejects allowlist entries that are neither addresses nor prefixes.
func (s *Settings) Validate() error {
	for _, entry := range s.AllowedIPs {
		if _, err := ParseAllowEntry(entry); err != nil {
			return ErrInvalidField("allowed_ips", "contains invalid entry "+entry)
		}
	}

	return nil
}

// ParseAllowEntry parses an allowlist entry as a CIDR prefix or single address.
func ParseAllowEntry(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}

		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}

	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
