package model

// Tier is a named subscription level.
type Tier string

const (
	TierFree  Tier = "free"
	TierPlus  Tier = "plus"
	TierUltra Tier = "ultra"
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// IsValid checks whether the tier is a known value.
func (t Tier) IsValid() bool {
	switch t {
	case TierFree, TierPlus, TierUltra:
		return true
	}
	return false
}

// tierOrder defines the upgrade ordering of tiers.
var tierOrder = map[Tier]int{
	TierFree:  0,
	TierPlus:  1,
	TierUltra: 2,
}

// Compare returns a negative number if t ranks below other, zero if equal,
// and a positive number if t ranks above other. Unknown tiers rank below free.
func (t Tier) Compare(other Tier) int {
	return tierOrder[t] - tierOrder[other]
}

// Next returns the next tier up, or empty string if t is already the top tier.
func (t Tier) Next() Tier {
	switch t {
	case TierFree:
		return TierPlus
	case TierPlus:
		return TierUltra
	}
	return ""
}

// ParseTier normalizes a plan string to a Tier, defaulting to free for
// unknown values so a bad subscription record never grants extra access.
func ParseTier(plan string) Tier {
	t := Tier(plan)
	if !t.IsValid() {
		return TierFree
	}
	return t
}
