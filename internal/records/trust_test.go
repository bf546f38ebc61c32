package records

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/famcare-ai/famcare/internal/inference"
)

func TestTrustPolicy_LocalAlwaysFull(t *testing.T) {
	// Allow-list contents must not matter for local adapters.
	for _, allowed := range [][]string{nil, {}, {"some-other-model"}} {
		policy := NewTrustPolicy(allowed)
		tier := policy.TierFor(inference.Descriptor{ID: "llama3.1:8b", Kind: inference.KindLocal})
		assert.Equal(t, TierFull, tier)
	}
}

func TestTrustPolicy_CloudRequiresAllowList(t *testing.T) {
	policy := NewTrustPolicy([]string{"gpt-4o"})

	assert.Equal(t, TierFull, policy.TierFor(inference.Descriptor{ID: "gpt-4o", Kind: inference.KindCloud}))
	assert.Equal(t, TierBasic, policy.TierFor(inference.Descriptor{ID: "gpt-4o-mini", Kind: inference.KindCloud}))
}

func TestTrustPolicy_EmptyAllowList(t *testing.T) {
	policy := NewTrustPolicy(nil)
	assert.Equal(t, TierBasic, policy.TierFor(inference.Descriptor{ID: "gpt-4o", Kind: inference.KindCloud}))
}
