package escrow

import (
	"fmt"
	"math/big"
)

// ListingStatus represents the lifecycle states of a single deed listing.
type ListingStatus uint8

const (
	ListingActive ListingStatus = iota + 1
	ListingSettled
	ListingCancelled
)

// Listing captures the terms and runtime state of one escrowed deed sale. A
// listing is keyed by the deed token id in the external registry and is never
// deleted; settled and cancelled listings remain as closed historical entries.
type Listing struct {
	AssetID          uint64
	Seller           [20]byte
	Buyer            [20]byte
	PurchasePrice    *big.Int
	EscrowAmount     *big.Int
	Deposited        *big.Int
	LoanFunded       *big.Int
	InspectionPassed bool
	Approvals        map[[20]byte]bool
	CreatedAt        int64
	ClosedAt         int64
	Status           ListingStatus
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.PurchasePrice = cloneBigInt(l.PurchasePrice)
	clone.EscrowAmount = cloneBigInt(l.EscrowAmount)
	clone.Deposited = cloneBigInt(l.Deposited)
	clone.LoanFunded = cloneBigInt(l.LoanFunded)
	clone.Approvals = make(map[[20]byte]bool, len(l.Approvals))
	for addr, ok := range l.Approvals {
		clone.Approvals[addr] = ok
	}
	return &clone
}

// Open reports whether the listing still accepts state transitions.
func (l *Listing) Open() bool {
	return l != nil && l.Status == ListingActive
}

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case ListingActive, ListingSettled, ListingCancelled:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name of the status.
func (s ListingStatus) String() string {
	switch s {
	case ListingActive:
		return "active"
	case ListingSettled:
		return "settled"
	case ListingCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// SanitizeListing validates and normalises the supplied listing, returning a
// cloned instance with non-nil amount fields. The function does not mutate the
// original value.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, ErrNilListing
	}
	clone := l.Clone()
	if clone.AssetID == 0 {
		return nil, fmt.Errorf("%w: asset id must be non-zero", ErrUnknownAsset)
	}
	if clone.PurchasePrice.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative purchase price", ErrInvalidAmount)
	}
	if clone.EscrowAmount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative escrow amount", ErrInvalidAmount)
	}
	if clone.EscrowAmount.Cmp(clone.PurchasePrice) > 0 {
		return nil, fmt.Errorf("%w: escrow amount exceeds purchase price", ErrInvalidAmount)
	}
	if clone.Deposited.Sign() < 0 || clone.LoanFunded.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative custody counter", ErrInvalidAmount)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid listing status: %d", clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
