package escrow

import "math/big"

// The read accessors are pure projections of record and custody state. They
// take no caller identity, and unknown asset ids yield zero values rather
// than errors.

func (e *Engine) listing(assetID uint64) (*Listing, bool) {
	if e == nil || e.state == nil {
		return nil, false
	}
	return e.state.ListingGet(assetID)
}

// Listing returns a copy of the full record for the given asset id.
func (e *Engine) Listing(assetID uint64) (*Listing, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// IsListed reports whether the asset currently has an active listing.
func (e *Engine) IsListed(assetID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	return ok && l.Open()
}

// PurchasePrice returns the agreed sale price for the asset.
func (e *Engine) PurchasePrice(assetID uint64) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	if !ok {
		return big.NewInt(0)
	}
	return cloneBigInt(l.PurchasePrice)
}

// EscrowAmount returns the earnest amount agreed at listing time.
func (e *Engine) EscrowAmount(assetID uint64) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	if !ok {
		return big.NewInt(0)
	}
	return cloneBigInt(l.EscrowAmount)
}

// DepositedAmount returns the earnest total the buyer has paid in so far.
func (e *Engine) DepositedAmount(assetID uint64) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	if !ok {
		return big.NewInt(0)
	}
	return cloneBigInt(l.Deposited)
}

// Buyer returns the principal permitted to deposit earnest for the asset.
func (e *Engine) Buyer(assetID uint64) [20]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	if !ok {
		return [20]byte{}
	}
	return l.Buyer
}

// SellerOf returns the seller recorded for the asset's listing.
func (e *Engine) SellerOf(assetID uint64) [20]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	if !ok {
		return [20]byte{}
	}
	return l.Seller
}

// InspectionPassed reports the latest inspection outcome for the asset.
func (e *Engine) InspectionPassed(assetID uint64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	return ok && l.InspectionPassed
}

// Approval reports whether the given principal has approved the sale.
func (e *Engine) Approval(assetID uint64, principal [20]byte) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	l, ok := e.listing(assetID)
	return ok && l.Approvals[principal]
}

// EscrowBalance returns the custody funds held for one listing.
func (e *Engine) EscrowBalance(assetID uint64) *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return big.NewInt(0)
	}
	balance, err := e.state.EscrowBalance(assetID)
	if err != nil {
		return big.NewInt(0)
	}
	return balance
}

// GetBalance returns the pooled custody balance across all listings.
func (e *Engine) GetBalance() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state == nil {
		return big.NewInt(0)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return big.NewInt(0)
	}
	acc, err := e.state.GetAccount(vault[:])
	if err != nil || acc == nil || acc.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}
