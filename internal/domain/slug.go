package domain

import "math/big"

// SlugKind identifies a liquidity range's role on the curve.
type SlugKind string

// Slug kind constants.
const (
	// SlugLower is the buy-back range below the current price; it holds the
	// proceeds so holders can always exit at the volume-weighted price paid.
	SlugLower SlugKind = "LOWER"
	// SlugUpper is the forward-sale range covering demand up to the next
	// epoch checkpoint.
	SlugUpper SlugKind = "UPPER"
	// SlugPriceDiscovery ranges carry supply for epochs beyond the next
	// checkpoint, front-loaded one epoch per slug.
	SlugPriceDiscovery SlugKind = "PRICE_DISCOVERY"
)

// TickRange is a contiguous tick interval aligned to the tick spacing,
// expressed in curve coordinates (price rises with the tick).
type TickRange struct {
	Lower int
	Upper int
}

// Width returns the tick span of the range.
func (r TickRange) Width() int {
	return r.Upper - r.Lower
}

// Slug is a named liquidity range with a depth. A slug with zero liquidity
// and a zero-width range is "unset": it is still emitted so downstream
// position indices stay stable.
type Slug struct {
	Kind  SlugKind
	Index int // 0 for LOWER/UPPER; price discovery ordinal otherwise
	Range TickRange

	// Liquidity is the range's liquidity in pool units.
	Liquidity *big.Int

	// Depth is the token quantity the range carries: asset tokens for UPPER
	// and PRICE_DISCOVERY slugs, numeraire for the LOWER slug.
	Depth *big.Int
}

// IsUnset reports whether the slug is an empty placeholder.
func (s *Slug) IsUnset() bool {
	return s.Range.Lower == s.Range.Upper && (s.Liquidity == nil || s.Liquidity.Sign() == 0)
}

// CloneSlugs deep-copies a slug set.
func CloneSlugs(slugs []Slug) []Slug {
	if slugs == nil {
		return nil
	}
	out := make([]Slug, len(slugs))
	for i, s := range slugs {
		out[i] = s
		if s.Liquidity != nil {
			out[i].Liquidity = new(big.Int).Set(s.Liquidity)
		}
		if s.Depth != nil {
			out[i].Depth = new(big.Int).Set(s.Depth)
		}
	}
	return out
}
