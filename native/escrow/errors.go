package escrow

import "errors"

var (
	ErrUnauthorized      = errors.New("escrow: unauthorized")
	ErrUnknownAsset      = errors.New("escrow: unknown asset")
	ErrNotListed         = errors.New("escrow: asset not listed")
	ErrAlreadyListed     = errors.New("escrow: asset already listed")
	ErrConditionsNotMet  = errors.New("escrow: settlement conditions not met")
	ErrInsufficientFunds = errors.New("escrow: insufficient custody funds")
	ErrRegistryTransfer  = errors.New("escrow: registry transfer failed")
	ErrInvalidAmount     = errors.New("escrow: invalid amount")
	ErrNilListing        = errors.New("escrow: nil listing")
)
