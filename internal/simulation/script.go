package simulation

import (
	"errors"
	"math/big"
	"sort"

	"token-sale-lab/internal/domain"
)

// Script errors
var (
	ErrNilConfig     = errors.New("script requires a sale config")
	ErrBadTradeOrder = errors.New("scripted trades must carry valid times and amounts")
)

// Side of a scripted trade.
type Side string

// Side constants.
const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ScriptedTrade is one trade attempt in a sale script. Amount is numeraire
// in for buys and asset in for sells.
type ScriptedTrade struct {
	AtTime int64
	Side   Side
	Amount *big.Int
}

// Script describes a full sale run: the configuration, the pool fee, the
// trade sequence, and when to finalize.
type Script struct {
	Config *domain.SaleConfig
	FeeBps int64
	Trades []ScriptedTrade

	// FinalizeAt is the migration time; zero means the sale's ending time.
	FinalizeAt int64
}

// Validate rejects structurally unusable scripts.
func (s *Script) Validate() error {
	if s.Config == nil {
		return ErrNilConfig
	}
	for _, t := range s.Trades {
		if t.Amount == nil || t.Amount.Sign() <= 0 {
			return ErrBadTradeOrder
		}
		if t.Side != SideBuy && t.Side != SideSell {
			return ErrBadTradeOrder
		}
	}
	return nil
}

// sorted returns the trades in execution order. The sort is stable so
// same-second trades keep their scripted order.
func (s *Script) sorted() []ScriptedTrade {
	trades := append([]ScriptedTrade(nil), s.Trades...)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].AtTime < trades[j].AtTime
	})
	return trades
}
