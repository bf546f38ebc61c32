package records

import (
	"github.com/famcare-ai/famcare/internal/inference"
)

// Tier is the disclosure level granted to an adapter for sensitive record
// fields.
type Tier string

const (
	TierFull  Tier = "full"
	TierBasic Tier = "basic"
)

// TrustPolicy decides the disclosure tier for an adapter. The allow-list is
// fixed at construction so trust decisions are reproducible; nothing about
// a session or user can escalate the tier.
type TrustPolicy struct {
	allowed map[string]struct{}
}

// NewTrustPolicy creates a policy from the configured allow-list of cloud
// adapter ids.
func NewTrustPolicy(allowedAdapters []string) *TrustPolicy {
	allowed := make(map[string]struct{}, len(allowedAdapters))
	for _, id := range allowedAdapters {
		allowed[id] = struct{}{}
	}
	return &TrustPolicy{allowed: allowed}
}

// TierFor returns the tier for the given adapter descriptor: full for local
// adapters and allow-listed cloud adapters, basic otherwise.
func (p *TrustPolicy) TierFor(desc inference.Descriptor) Tier {
	if desc.Kind == inference.KindLocal {
		return TierFull
	}
	if _, ok := p.allowed[desc.ID]; ok {
		return TierFull
	}
	return TierBasic
}
