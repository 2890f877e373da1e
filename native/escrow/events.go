package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"deedvault/core/types"
)

const (
	EventTypeListed            = "escrow.listed"
	EventTypeDeposited         = "escrow.deposited"
	EventTypeLoanFunded        = "escrow.loan_funded"
	EventTypeInspectionUpdated = "escrow.inspection_updated"
	EventTypeApproved          = "escrow.approved"
	EventTypeSettled           = "escrow.settled"
	EventTypeCancelled         = "escrow.cancelled"
)

type ledgerEvent struct {
	evt *types.Event
}

func (e ledgerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ledgerEvent) Event() *types.Event { return e.evt }

// NewListedEvent returns the canonical event payload for a freshly opened
// listing.
func NewListedEvent(l *Listing) *types.Event {
	evt := newListingEvent(EventTypeListed, l)
	if l != nil {
		evt.Attributes["purchasePrice"] = l.PurchasePrice.String()
		evt.Attributes["escrowAmount"] = l.EscrowAmount.String()
	}
	return evt
}

// NewDepositedEvent returns the payload emitted when the buyer pays earnest
// into custody.
func NewDepositedEvent(l *Listing, from [20]byte, amount *big.Int) *types.Event {
	evt := newListingEvent(EventTypeDeposited, l)
	evt.Attributes["from"] = hex.EncodeToString(from[:])
	evt.Attributes["amount"] = amount.String()
	if l != nil {
		evt.Attributes["deposited"] = l.Deposited.String()
	}
	return evt
}

// NewLoanFundedEvent returns the payload emitted when the lender funds
// settlement.
func NewLoanFundedEvent(l *Listing, amount *big.Int) *types.Event {
	evt := newListingEvent(EventTypeLoanFunded, l)
	evt.Attributes["amount"] = amount.String()
	if l != nil {
		evt.Attributes["loanFunded"] = l.LoanFunded.String()
	}
	return evt
}

// NewInspectionEvent returns the payload emitted when the inspector records an
// outcome.
func NewInspectionEvent(l *Listing, passed bool) *types.Event {
	evt := newListingEvent(EventTypeInspectionUpdated, l)
	evt.Attributes["passed"] = strconv.FormatBool(passed)
	return evt
}

// NewApprovedEvent returns the payload emitted when a principal approves the
// sale.
func NewApprovedEvent(l *Listing, approver [20]byte) *types.Event {
	evt := newListingEvent(EventTypeApproved, l)
	evt.Attributes["approver"] = hex.EncodeToString(approver[:])
	return evt
}

// NewSettledEvent returns the payload emitted on final settlement.
func NewSettledEvent(l *Listing) *types.Event {
	evt := newListingEvent(EventTypeSettled, l)
	if l != nil {
		evt.Attributes["purchasePrice"] = l.PurchasePrice.String()
	}
	return evt
}

// NewCancelledEvent returns the payload emitted when a listing closes without
// a sale.
func NewCancelledEvent(l *Listing, earnestRecipient [20]byte) *types.Event {
	evt := newListingEvent(EventTypeCancelled, l)
	evt.Attributes["earnestRecipient"] = hex.EncodeToString(earnestRecipient[:])
	return evt
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["assetId"] = strconv.FormatUint(l.AssetID, 10)
	attrs["seller"] = hex.EncodeToString(l.Seller[:])
	attrs["buyer"] = hex.EncodeToString(l.Buyer[:])
	attrs["status"] = l.Status.String()
	return &types.Event{Type: eventType, Attributes: attrs}
}
