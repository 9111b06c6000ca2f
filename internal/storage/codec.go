package storage

import (
	"encoding/json"
	"fmt"
	"math/big"

	"token-sale-lab/internal/domain"
)

// Integer amounts exceed every native column width, so the SQL backends
// persist them as decimal strings and slug sets as a JSON document. Both
// encodings are lossless.

// EncodeBig renders an integer amount as a decimal string, treating nil as
// zero.
func EncodeBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// DecodeBig parses a decimal string produced by EncodeBig.
func DecodeBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed integer %q", ErrInvalidInput, s)
	}
	return v, nil
}

// slugDTO is the JSON shape of one slug. Amounts are decimal strings so no
// precision is lost through a numeric JSON type.
type slugDTO struct {
	Kind      string `json:"kind"`
	Index     int    `json:"index"`
	TickLower int    `json:"tick_lower"`
	TickUpper int    `json:"tick_upper"`
	Liquidity string `json:"liquidity"`
	Depth     string `json:"depth"`
}

// EncodeSlugs serializes a slug set to its JSON document form.
func EncodeSlugs(slugs []domain.Slug) (string, error) {
	dtos := make([]slugDTO, len(slugs))
	for i, s := range slugs {
		dtos[i] = slugDTO{
			Kind:      string(s.Kind),
			Index:     s.Index,
			TickLower: s.Range.Lower,
			TickUpper: s.Range.Upper,
			Liquidity: EncodeBig(s.Liquidity),
			Depth:     EncodeBig(s.Depth),
		}
	}
	data, err := json.Marshal(dtos)
	if err != nil {
		return "", fmt.Errorf("encode slugs: %w", err)
	}
	return string(data), nil
}

// DecodeSlugs parses a JSON document produced by EncodeSlugs.
func DecodeSlugs(doc string) ([]domain.Slug, error) {
	if doc == "" {
		return nil, nil
	}
	var dtos []slugDTO
	if err := json.Unmarshal([]byte(doc), &dtos); err != nil {
		return nil, fmt.Errorf("decode slugs: %w", err)
	}
	slugs := make([]domain.Slug, len(dtos))
	for i, d := range dtos {
		liq, err := DecodeBig(d.Liquidity)
		if err != nil {
			return nil, fmt.Errorf("slug %d liquidity: %w", i, err)
		}
		depth, err := DecodeBig(d.Depth)
		if err != nil {
			return nil, fmt.Errorf("slug %d depth: %w", i, err)
		}
		slugs[i] = domain.Slug{
			Kind:      domain.SlugKind(d.Kind),
			Index:     d.Index,
			Range:     domain.TickRange{Lower: d.TickLower, Upper: d.TickUpper},
			Liquidity: liq,
			Depth:     depth,
		}
	}
	return slugs, nil
}
