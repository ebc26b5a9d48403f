// Package identity maps raw chat identifiers onto known customer records.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// DefaultCountryCode is the calling code stripped from and re-added to phone numbers.
const DefaultCountryCode = "213"

// ClientLookup finds a client whose stored phone equals any of the candidates.
// It returns nil, nil when nothing matches.
type ClientLookup interface {
	FindClientByPhones(ctx context.Context, phones []string) (*models.ClientRecord, error)
}

// Opts holds configuration options for the Resolver.
type Opts struct {
	CountryCode string
}

// Option defines a configuration option for the Resolver.
type Option func(*Opts)

// WithCountryCode sets the country calling code (digits only, no "+").
func WithCountryCode(cc string) Option {
	return func(o *Opts) {
		o.CountryCode = strings.TrimLeft(strings.TrimSpace(cc), "+")
	}
}

// Resolver normalizes phone identifiers and looks up client records.
type Resolver struct {
	lookup      ClientLookup
	countryCode string
}

// NewResolver creates a Resolver backed by lookup.
func NewResolver(lookup ClientLookup, opts ...Option) *Resolver {
	cfg := Opts{CountryCode: DefaultCountryCode}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = DefaultCountryCode
	}
	return &Resolver{lookup: lookup, countryCode: cfg.CountryCode}
}

// CountryCode returns the configured calling code.
func (r *Resolver) CountryCode() string {
	return r.countryCode
}

// Normalize converts a raw identifier into the canonical local number.
//
// The transport suffix ("@s.whatsapp.net", "@c.us") and any device part
// (":12") are removed, as is a scheme prefix such as "whatsapp:". Separators
// are dropped, then a leading "+CC", "00CC" or "CC", then a single trunk "0".
func (r *Resolver) Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		head := strings.TrimSpace(s[:i])
		if h := strings.TrimPrefix(head, "+"); h != "" && digitsOnly(h) == h {
			s = head
		} else {
			s = s[i+1:]
		}
	}
	s = dialable(s)
	for _, prefix := range []string{"+" + r.countryCode, "00" + r.countryCode, r.countryCode} {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	s = digitsOnly(s)
	return strings.TrimPrefix(s, "0")
}

// Candidates returns the stored-phone representations considered equal to
// canonical: bare, leading zero, and country-code prefixed.
func (r *Resolver) Candidates(canonical string) []string {
	if canonical == "" {
		return nil
	}
	return []string{canonical, "0" + canonical, "+" + r.countryCode + canonical}
}

// Resolve returns the identity projection for raw, or nil when no client
// matches. Store failures other than "no rows" wrap models.ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*models.ClientProfile, error) {
	canonical := r.Normalize(raw)
	if canonical == "" || r.lookup == nil {
		return nil, nil
	}
	rec, err := r.lookup.FindClientByPhones(ctx, r.Candidates(canonical))
	if err != nil {
		slog.Error("Resolver.Resolve: client lookup failed", "phone", canonical, "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrResolutionFailed, err)
	}
	if rec == nil {
		slog.Debug("Resolver.Resolve: no client record", "phone", canonical)
		return nil, nil
	}
	slog.Debug("Resolver.Resolve: client resolved", "phone", canonical, "client_id", rec.ID)
	return rec.Profile(), nil
}

// dialable keeps digits and a leading "+".
func dialable(s string) string {
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")
	s = digitsOnly(s)
	if plus {
		return "+" + s
	}
	return s
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}
