package escrow

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"deedvault/core/events"
	"deedvault/core/types"
	"deedvault/observability/metrics"
)

// DeedRegistry is the slice of the external asset registry the ledger
// consumes. The registry tracks deed ownership and transfer authorization; the
// ledger never mutates deed metadata.
type DeedRegistry interface {
	OwnerOf(assetID uint64) ([20]byte, error)
	TransferFrom(spender, from, to [20]byte, assetID uint64) error
}

type ledgerState interface {
	ListingPut(*Listing) error
	ListingGet(assetID uint64) (*Listing, bool)
	EscrowCredit(assetID uint64, amt *big.Int) error
	EscrowDebit(assetID uint64, amt *big.Int) error
	EscrowBalance(assetID uint64) (*big.Int, error)
	EscrowVaultAddress() ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Roles fixes the process-wide principals at construction time. The inspector
// authorizes inspection results for every listing, the lender is one of the
// three approvers and may fund settlement, and Seller is the nominal default
// counterparty recorded at deployment.
type Roles struct {
	Inspector [20]byte
	Lender    [20]byte
	Seller    [20]byte
}

// CancelPolicy controls where the buyer's earnest goes when an active listing
// is cancelled. Loan funds always return to the lender regardless of policy.
type CancelPolicy struct {
	// ForfeitOnPassedInspection pays the earnest to the seller when the
	// inspection already passed at cancellation time. When false the buyer
	// is always refunded.
	ForfeitOnPassedInspection bool
}

// Config bundles the immutable construction parameters of the ledger.
type Config struct {
	Roles        Roles
	RegistryAddr [20]byte
	CustodyAddr  [20]byte
	Policy       CancelPolicy
}

// Engine drives every listing through its lifecycle from listing to
// settlement or cancellation. All state-changing calls are serialized through
// a single lock so that per-asset transitions and the shared custody accounts
// never interleave.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	state     ledgerState
	registry  DeedRegistry
	emitter   events.Emitter
	telemetry *metrics.EscrowMetrics
	nowFn     func() int64
}

var (
	errNilState    = fmt.Errorf("escrow: state not configured")
	errNilRegistry = fmt.Errorf("escrow: registry not configured")
)

// NewEngine creates a ledger engine with the given immutable configuration and
// a no-op emitter. The state backend and registry are wired via SetState and
// SetRegistry before first use.
func NewEngine(cfg Config) (*Engine, error) {
	var zero [20]byte
	if cfg.Roles.Inspector == zero {
		return nil, fmt.Errorf("escrow: inspector address required")
	}
	if cfg.Roles.Lender == zero {
		return nil, fmt.Errorf("escrow: lender address required")
	}
	if cfg.CustodyAddr == zero {
		return nil, fmt.Errorf("escrow: custody address required")
	}
	return &Engine{
		cfg:       cfg,
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Escrow(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetRegistry configures the external deed registry consulted for ownership
// checks and custody transfers.
func (e *Engine) SetRegistry(reg DeedRegistry) { e.registry = reg }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Inspector returns the fixed inspector principal.
func (e *Engine) Inspector() [20]byte { return e.cfg.Roles.Inspector }

// Lender returns the fixed lender principal.
func (e *Engine) Lender() [20]byte { return e.cfg.Roles.Lender }

// Seller returns the nominal seller recorded at construction.
func (e *Engine) Seller() [20]byte { return e.cfg.Roles.Seller }

// RegistryAddress returns the address of the external deed registry.
func (e *Engine) RegistryAddress() [20]byte { return e.cfg.RegistryAddr }

// CustodyAddress returns the principal under which the ledger holds listed
// deeds in the registry.
func (e *Engine) CustodyAddress() [20]byte { return e.cfg.CustodyAddr }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(ledgerEvent{evt: evt})
}

func (e *Engine) loadOpen(assetID uint64) (*Listing, error) {
	if e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(assetID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAsset, assetID)
	}
	if !listing.Open() {
		return nil, fmt.Errorf("%w: %d is %s", ErrNotListed, assetID, listing.Status)
	}
	return listing, nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) transferFunds(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer amount", ErrInvalidAmount)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: balance %s short of %s", ErrInsufficientFunds, fromAcc.Balance, amt)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// List pulls the deed out of the seller's custody and opens a fresh listing.
// The caller must be the registry-recorded owner of the deed and must have
// authorized the ledger's custody address as spender beforehand; after a
// successful return the ledger, not the seller, owns the deed.
func (e *Engine) List(caller [20]byte, assetID uint64, purchasePrice, escrowAmount *big.Int, buyer [20]byte) (*Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if assetID == 0 {
		return nil, fmt.Errorf("%w: asset id must be non-zero", ErrUnknownAsset)
	}
	var zero [20]byte
	if buyer == zero {
		return nil, fmt.Errorf("escrow: zero buyer address")
	}
	if _, exists := e.state.ListingGet(assetID); exists {
		e.telemetry.ObserveOperation("list", false)
		return nil, fmt.Errorf("%w: %d", ErrAlreadyListed, assetID)
	}
	owner, err := e.registry.OwnerOf(assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %v", ErrUnknownAsset, assetID, err)
	}
	if owner != caller {
		e.telemetry.ObserveOperation("list", false)
		return nil, fmt.Errorf("%w: caller is not the deed owner", ErrUnauthorized)
	}
	listing := &Listing{
		AssetID:       assetID,
		Seller:        caller,
		Buyer:         buyer,
		PurchasePrice: cloneBigInt(purchasePrice),
		EscrowAmount:  cloneBigInt(escrowAmount),
		Deposited:     big.NewInt(0),
		LoanFunded:    big.NewInt(0),
		Approvals:     make(map[[20]byte]bool),
		CreatedAt:     e.now(),
		Status:        ListingActive,
	}
	sanitized, err := SanitizeListing(listing)
	if err != nil {
		return nil, err
	}
	if err := e.registry.TransferFrom(e.cfg.CustodyAddr, caller, e.cfg.CustodyAddr, assetID); err != nil {
		e.telemetry.ObserveOperation("list", false)
		return nil, fmt.Errorf("%w: %v", ErrRegistryTransfer, err)
	}
	if err := e.state.ListingPut(sanitized); err != nil {
		return nil, err
	}
	e.telemetry.ObserveOperation("list", true)
	e.telemetry.AddOpenListings(1)
	e.emit(NewListedEvent(sanitized))
	return sanitized.Clone(), nil
}

// DepositEarnest moves earnest funds from the buyer into the listing's custody
// balance. Only the listing's buyer may deposit; there is no upper bound on
// the total, settlement is what checks the funds actually available.
func (e *Engine) DepositEarnest(caller [20]byte, assetID uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadOpen(assetID)
	if err != nil {
		return err
	}
	if caller != listing.Buyer {
		e.telemetry.ObserveOperation("deposit", false)
		return fmt.Errorf("%w: only the buyer may deposit earnest", ErrUnauthorized)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.transferFunds(caller, vault, amt); err != nil {
		e.telemetry.ObserveOperation("deposit", false)
		return err
	}
	if err := e.state.EscrowCredit(assetID, amt); err != nil {
		return err
	}
	listing.Deposited = new(big.Int).Add(listing.Deposited, amt)
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.telemetry.ObserveOperation("deposit", true)
	e.emit(NewDepositedEvent(listing, caller, amt))
	return nil
}

// FundLoan moves settlement funds from the lender into the listing's custody
// balance. The loan portion is tracked separately from the buyer's earnest so
// cancellation can return it to the lender.
func (e *Engine) FundLoan(caller [20]byte, assetID uint64, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadOpen(assetID)
	if err != nil {
		return err
	}
	if caller != e.cfg.Roles.Lender {
		e.telemetry.ObserveOperation("fund_loan", false)
		return fmt.Errorf("%w: only the lender may fund the loan", ErrUnauthorized)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: loan funding must be positive", ErrInvalidAmount)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.transferFunds(caller, vault, amt); err != nil {
		e.telemetry.ObserveOperation("fund_loan", false)
		return err
	}
	if err := e.state.EscrowCredit(assetID, amt); err != nil {
		return err
	}
	listing.LoanFunded = new(big.Int).Add(listing.LoanFunded, amt)
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.telemetry.ObserveOperation("fund_loan", true)
	e.emit(NewLoanFundedEvent(listing, amt))
	return nil
}

// UpdateInspectionStatus records the inspection outcome. Only the fixed
// inspector may call; repeated calls overwrite the flag, last write wins.
func (e *Engine) UpdateInspectionStatus(caller [20]byte, assetID uint64, passed bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadOpen(assetID)
	if err != nil {
		return err
	}
	if caller != e.cfg.Roles.Inspector {
		e.telemetry.ObserveOperation("inspection", false)
		return fmt.Errorf("%w: only the inspector may record inspections", ErrUnauthorized)
	}
	listing.InspectionPassed = passed
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.telemetry.ObserveOperation("inspection", true)
	e.emit(NewInspectionEvent(listing, passed))
	return nil
}

// ApproveSale records the caller's approval of the sale. Only the listing's
// buyer and seller and the fixed lender may approve; each principal's flag is
// independent and the call is idempotent.
func (e *Engine) ApproveSale(caller [20]byte, assetID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadOpen(assetID)
	if err != nil {
		return err
	}
	if caller != listing.Buyer && caller != listing.Seller && caller != e.cfg.Roles.Lender {
		e.telemetry.ObserveOperation("approve", false)
		return fmt.Errorf("%w: caller holds no approval role", ErrUnauthorized)
	}
	if listing.Approvals[caller] {
		return nil
	}
	listing.Approvals[caller] = true
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.telemetry.ObserveOperation("approve", true)
	e.emit(NewApprovedEvent(listing, caller))
	return nil
}

func (e *Engine) conditionsMet(listing *Listing) bool {
	return listing.InspectionPassed &&
		listing.Approvals[listing.Buyer] &&
		listing.Approvals[listing.Seller] &&
		listing.Approvals[e.cfg.Roles.Lender]
}

// FinalizeSale settles the listing: the seller is paid the purchase price from
// custody, any excess is refunded to the buyer, and the deed moves to the
// buyer. Either counterparty may trigger settlement once the inspection has
// passed, all three approvals are in, and custody holds at least the purchase
// price.
func (e *Engine) FinalizeSale(caller [20]byte, assetID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadOpen(assetID)
	if err != nil {
		return err
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if caller != listing.Buyer && caller != listing.Seller {
		e.telemetry.ObserveOperation("finalize", false)
		return fmt.Errorf("%w: only the buyer or seller may finalize", ErrUnauthorized)
	}
	if !e.conditionsMet(listing) {
		e.telemetry.ObserveOperation("finalize", false)
		return fmt.Errorf("%w: inspection or approvals outstanding", ErrConditionsNotMet)
	}
	balance, err := e.state.EscrowBalance(assetID)
	if err != nil {
		return err
	}
	if balance.Cmp(listing.PurchasePrice) < 0 {
		e.telemetry.ObserveOperation("finalize", false)
		return fmt.Errorf("%w: custody holds %s of %s", ErrInsufficientFunds, balance, listing.PurchasePrice)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.registry.TransferFrom(e.cfg.CustodyAddr, e.cfg.CustodyAddr, listing.Buyer, assetID); err != nil {
		e.telemetry.ObserveOperation("finalize", false)
		return fmt.Errorf("%w: %v", ErrRegistryTransfer, err)
	}
	if err := e.transferFunds(vault, listing.Seller, listing.PurchasePrice); err != nil {
		return err
	}
	excess := new(big.Int).Sub(balance, listing.PurchasePrice)
	if excess.Sign() > 0 {
		if err := e.transferFunds(vault, listing.Buyer, excess); err != nil {
			return err
		}
	}
	if err := e.state.EscrowDebit(assetID, balance); err != nil {
		return err
	}
	listing.Status = ListingSettled
	listing.ClosedAt = e.now()
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.telemetry.ObserveOperation("finalize", true)
	e.telemetry.AddOpenListings(-1)
	e.telemetry.ObserveSettlement(listing.PurchasePrice)
	e.emit(NewSettledEvent(listing))
	return nil
}

// CancelSale closes the listing without a sale. The deed returns to the
// seller, loan funds return to the lender, and the buyer's earnest follows
// the configured cancellation policy: forfeited to the seller when the
// inspection already passed, refunded to the buyer otherwise.
func (e *Engine) CancelSale(caller [20]byte, assetID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadOpen(assetID)
	if err != nil {
		return err
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if caller != listing.Buyer && caller != listing.Seller {
		e.telemetry.ObserveOperation("cancel", false)
		return fmt.Errorf("%w: only the buyer or seller may cancel", ErrUnauthorized)
	}
	balance, err := e.state.EscrowBalance(assetID)
	if err != nil {
		return err
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.registry.TransferFrom(e.cfg.CustodyAddr, e.cfg.CustodyAddr, listing.Seller, assetID); err != nil {
		e.telemetry.ObserveOperation("cancel", false)
		return fmt.Errorf("%w: %v", ErrRegistryTransfer, err)
	}
	loanRefund := cloneBigInt(listing.LoanFunded)
	if loanRefund.Cmp(balance) > 0 {
		loanRefund = cloneBigInt(balance)
	}
	if err := e.transferFunds(vault, e.cfg.Roles.Lender, loanRefund); err != nil {
		return err
	}
	earnest := new(big.Int).Sub(balance, loanRefund)
	recipient := listing.Buyer
	if listing.InspectionPassed && e.cfg.Policy.ForfeitOnPassedInspection {
		recipient = listing.Seller
	}
	if err := e.transferFunds(vault, recipient, earnest); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(assetID, balance); err != nil {
		return err
	}
	listing.Status = ListingCancelled
	listing.ClosedAt = e.now()
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.telemetry.ObserveOperation("cancel", true)
	e.telemetry.AddOpenListings(-1)
	e.emit(NewCancelledEvent(listing, recipient))
	return nil
}
