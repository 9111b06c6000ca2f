package domain

import (
	"errors"
	"math/big"
)

// MaxPriceDiscoverySlugs is the protocol cap on the number of price
// discovery ranges a sale may request.
const MaxPriceDiscoverySlugs = 15

// Direction states how the asset price relates to the tick coordinate.
type Direction string

// Direction constants.
const (
	// DirectionUp means the asset price rises as the tick increases.
	DirectionUp Direction = "UP"
	// DirectionDown means the asset price falls as the tick increases.
	DirectionDown Direction = "DOWN"
)

// Configuration errors, rejected at construction before any state exists.
var (
	ErrInvalidTimeRange    = errors.New("ending time must be after starting time")
	ErrZeroEpochLength     = errors.New("epoch length must be positive")
	ErrInvalidSupply       = errors.New("tokens to sell must be positive")
	ErrInvalidProceeds     = errors.New("maximum proceeds must not be below minimum proceeds")
	ErrInvalidTickSpacing  = errors.New("tick spacing must be positive")
	ErrNonPositiveGamma    = errors.New("gamma must be positive")
	ErrUnalignedGamma      = errors.New("gamma must be a multiple of tick spacing")
	ErrUnalignedTick       = errors.New("starting and ending ticks must be multiples of tick spacing")
	ErrInvertedTickRange   = errors.New("ending tick must be on the decaying side of starting tick for the selling direction")
	ErrInvalidDirection    = errors.New("direction must be UP or DOWN")
	ErrInvalidSlugCount    = errors.New("price discovery slug count must be between 1 and the protocol maximum")
	ErrInvalidAuthorityKey = errors.New("early exit authority is not a valid public key")
)

// SaleConfig is the immutable description of a sale, set at creation.
//
// Ticks are coordinates in log-price space. Direction states whether the
// asset price rises (UP) or falls (DOWN) as the tick increases; the curve
// always decays the asset price over time, so the ending tick sits on the
// cheap side of the starting tick for the configured direction.
type SaleConfig struct {
	SaleID string

	NumTokensToSell *big.Int
	MinimumProceeds *big.Int
	MaximumProceeds *big.Int // zero disables the early-exit proceeds cap

	StartingTime int64 // unix seconds
	EndingTime   int64 // unix seconds
	EpochLength  int64 // seconds

	StartingTick int
	EndingTick   int
	Gamma        int // per-epoch maximum curve shift, in ticks, always positive
	TickSpacing  int

	NumPriceDiscoverySlugs int
	Direction              Direction

	// EarlyExitAuthorities lists base58-encoded ed25519 public keys allowed
	// to trigger an early exit.
	EarlyExitAuthorities []string
}

// Orient returns +1 when the asset price rises with the tick and -1 when it
// falls. Multiplying a tick by Orient moves it into curve coordinates, where
// price always rises with the coordinate.
func (c *SaleConfig) Orient() int {
	if c.Direction == DirectionDown {
		return -1
	}
	return 1
}

// ToCurve converts a native pool tick into curve coordinates.
func (c *SaleConfig) ToCurve(tick int) int {
	return c.Orient() * tick
}

// FromCurve converts a curve-coordinate tick back into the pool's native
// coordinate.
func (c *SaleConfig) FromCurve(tick int) int {
	return c.Orient() * tick
}

// TotalEpochs returns the number of epochs in the sale, counting a trailing
// partial epoch as a full one.
func (c *SaleConfig) TotalEpochs() int64 {
	d := c.EndingTime - c.StartingTime
	return (d + c.EpochLength - 1) / c.EpochLength
}

// Validate rejects configurations that could never produce a well-formed
// curve. It must be called before any state is created.
func (c *SaleConfig) Validate() error {
	if c.NumTokensToSell == nil || c.NumTokensToSell.Sign() <= 0 {
		return ErrInvalidSupply
	}
	if c.EndingTime <= c.StartingTime {
		return ErrInvalidTimeRange
	}
	if c.EpochLength <= 0 {
		return ErrZeroEpochLength
	}
	if c.MaximumProceeds != nil && c.MaximumProceeds.Sign() > 0 &&
		c.MinimumProceeds != nil && c.MaximumProceeds.Cmp(c.MinimumProceeds) < 0 {
		return ErrInvalidProceeds
	}
	if c.TickSpacing <= 0 {
		return ErrInvalidTickSpacing
	}
	if c.Gamma <= 0 {
		return ErrNonPositiveGamma
	}
	if c.Gamma%c.TickSpacing != 0 {
		return ErrUnalignedGamma
	}
	if c.StartingTick%c.TickSpacing != 0 || c.EndingTick%c.TickSpacing != 0 {
		return ErrUnalignedTick
	}
	switch c.Direction {
	case DirectionUp, DirectionDown:
	default:
		return ErrInvalidDirection
	}
	// In curve coordinates the price decays from the starting tick toward
	// the ending tick, so the oriented ending tick must sit strictly below
	// the oriented starting tick.
	if c.Orient()*(c.EndingTick-c.StartingTick) >= 0 {
		return ErrInvertedTickRange
	}
	if c.NumPriceDiscoverySlugs < 1 || c.NumPriceDiscoverySlugs > MaxPriceDiscoverySlugs {
		return ErrInvalidSlugCount
	}
	return nil
}
