// Package wallet holds wallet descriptors and the eligibility filter that
// decides which wallets may serve a request.
package wallet

import (
	"context"

	"github.com/ory/go-convenience/stringslice"
	"github.com/samber/lo"
)

// Descriptor describes a registered wallet. It is read-only to the mediator.
type Descriptor struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	URL       string   `json:"url"`
	Protocols []string `json:"protocols"`
	Enabled   bool     `json:"enabled"`
}

// Supports reports whether d is enabled and declares protocolID.
func (d Descriptor) Supports(protocolID string) bool {
	return d.Enabled && stringslice.Has(d.Protocols, protocolID)
}

// Registry gives read access to the wallets known to the mediator.
type Registry interface {
	Wallets(ctx context.Context) ([]Descriptor, error)
}

// Eligible returns the wallets that are enabled and declare protocolID, in
// registry order.
func Eligible(wallets []Descriptor, protocolID string) []Descriptor {
	return lo.Filter(wallets, func(w Descriptor, _ int) bool {
		return w.Supports(protocolID)
	})
}

// EligibleAny returns the wallets eligible for at least one of protocolIDs,
// each wallet once.
func EligibleAny(wallets []Descriptor, protocolIDs []string) []Descriptor {
	matched := lo.Filter(wallets, func(w Descriptor, _ int) bool {
		return lo.SomeBy(protocolIDs, w.Supports)
	})
	return lo.UniqBy(matched, func(w Descriptor) string {
		return w.ID
	})
}

// Find returns the wallet with the given id.
func Find(wallets []Descriptor, id string) (Descriptor, bool) {
	return lo.Find(wallets, func(w Descriptor) bool {
		return w.ID == id
	})
}
