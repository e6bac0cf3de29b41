package domain

import "github.com/holiman/uint256"

// Sale is a listing created by the shop owner.
type Sale struct {
	ID          uint64
	Title       string
	AskingPrice *uint256.Int
	Sold        bool
}

// Clone returns a deep copy so callers can't mutate shop state.
func (s *Sale) Clone() Sale {
	clone := *s
	clone.AskingPrice = cloneAmount(s.AskingPrice)
	return clone
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return v.Clone()
}
