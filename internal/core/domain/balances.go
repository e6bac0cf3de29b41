package domain

import "github.com/holiman/uint256"

// Balances is a point-in-time view of a shop's escrow ledger.
type Balances struct {
	Blocked   *uint256.Int
	Available *uint256.Int
	Contract  *uint256.Int
	Owner     *uint256.Int
}
