package domain

import "math/big"

// BalanceBreakdown is the raw per-asset balance of an identity, in base units.
type BalanceBreakdown struct {
	Native *big.Int // CELO, from eth_getBalance
	Token  *big.Int // settlement token (cUSD), from balanceOf
}

// Balance is the display-ready settlement token balance.
// It is recomputed on every refresh and never persisted.
type Balance struct {
	BaseUnits *big.Int
	Display   string // base units scaled by 10^-decimals, fixed to DisplayPlaces
}
