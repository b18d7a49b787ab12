package auth

// Tier is a caller capability bucket.
type Tier string

const (
	TierFree  Tier = "free"
	TierPro   Tier = "pro"
	TierAdmin Tier = "admin"
)

// tierRank orders tiers for minimum-tier comparisons.
var tierRank = map[Tier]int{
	TierFree:  0,
	TierPro:   1,
	TierAdmin: 2,
}

// AtLeast reports whether t satisfies a minimum tier requirement.
func (t Tier) AtLeast(minimum Tier) bool {
	return tierRank[t] >= tierRank[minimum]
}

// CanUseBackend reports whether the tier may reach the upstream analysis
// service.
func (t Tier) CanUseBackend() bool {
	return t == TierPro || t == TierAdmin
}

// MapTier is the single deterministic mapping from verifier metadata to a
// tier. Unknown plans resolve to free.
func MapTier(plan string) Tier {
	switch plan {
	case "pro", "team", "enterprise":
		return TierPro
	case "admin", "internal":
		return TierAdmin
	default:
		return TierFree
	}
}
