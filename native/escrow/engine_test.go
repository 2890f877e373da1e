package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"deedvault/core/events"
	"deedvault/core/types"
)

type mockState struct {
	listings map[uint64]*Listing
	accounts map[[20]byte]*types.Account
	custody  map[uint64]*big.Int
	vault    [20]byte
}

func newMockState() *mockState {
	return &mockState{
		listings: make(map[uint64]*Listing),
		accounts: make(map[[20]byte]*types.Account),
		custody:  make(map[uint64]*big.Int),
		vault:    newTestAddress(0xAA),
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func (m *mockState) ListingPut(l *Listing) error {
	sanitized, err := SanitizeListing(l)
	if err != nil {
		return err
	}
	m.listings[sanitized.AssetID] = sanitized.Clone()
	return nil
}

func (m *mockState) ListingGet(assetID uint64) (*Listing, bool) {
	l, ok := m.listings[assetID]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

func (m *mockState) EscrowCredit(assetID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("negative credit")
	}
	if _, ok := m.listings[assetID]; !ok {
		return fmt.Errorf("listing not found")
	}
	current := big.NewInt(0)
	if existing, ok := m.custody[assetID]; ok && existing != nil {
		current = new(big.Int).Set(existing)
	}
	m.custody[assetID] = current.Add(current, amt)
	return nil
}

func (m *mockState) EscrowDebit(assetID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("negative debit")
	}
	current := big.NewInt(0)
	if existing, ok := m.custody[assetID]; ok && existing != nil {
		current = new(big.Int).Set(existing)
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("insufficient custody balance")
	}
	current.Sub(current, amt)
	if current.Sign() == 0 {
		delete(m.custody, assetID)
	} else {
		m.custody[assetID] = current
	}
	return nil
}

func (m *mockState) EscrowBalance(assetID uint64) (*big.Int, error) {
	if existing, ok := m.custody[assetID]; ok && existing != nil {
		return new(big.Int).Set(existing), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) EscrowVaultAddress() ([20]byte, error) {
	return m.vault, nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	if acc, ok := m.accounts[key]; ok {
		return acc.Clone(), nil
	}
	return types.NewAccount(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account.Clone()
	return nil
}

func (m *mockState) setBalance(addr [20]byte, amount int64) {
	m.accounts[addr] = &types.Account{Balance: big.NewInt(amount)}
}

func (m *mockState) balance(addr [20]byte) string {
	if acc, ok := m.accounts[addr]; ok && acc.Balance != nil {
		return acc.Balance.String()
	}
	return "0"
}

type mockRegistry struct {
	owners    map[uint64][20]byte
	approvals map[uint64][20]byte
	failNext  error
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		owners:    make(map[uint64][20]byte),
		approvals: make(map[uint64][20]byte),
	}
}

func (r *mockRegistry) mint(owner [20]byte, id uint64) { r.owners[id] = owner }

func (r *mockRegistry) approve(id uint64, spender [20]byte) { r.approvals[id] = spender }

func (r *mockRegistry) OwnerOf(assetID uint64) ([20]byte, error) {
	owner, ok := r.owners[assetID]
	if !ok {
		return [20]byte{}, fmt.Errorf("unknown token %d", assetID)
	}
	return owner, nil
}

func (r *mockRegistry) TransferFrom(spender, from, to [20]byte, assetID uint64) error {
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		return err
	}
	owner, ok := r.owners[assetID]
	if !ok {
		return fmt.Errorf("unknown token %d", assetID)
	}
	if from != owner {
		return fmt.Errorf("from is not the owner")
	}
	if spender != owner && spender != r.approvals[assetID] {
		return fmt.Errorf("spender not authorized")
	}
	r.owners[assetID] = to
	delete(r.approvals, assetID)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) eventTypes() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

var (
	testInspector = newTestAddress(0x0A)
	testLender    = newTestAddress(0x0B)
	testSeller    = newTestAddress(0x0C)
	testBuyer     = newTestAddress(0x0D)
	testCustody   = newTestAddress(0xEE)
	testOutsider  = newTestAddress(0xF0)
)

func newTestEngine(t *testing.T, state *mockState, reg *mockRegistry) *Engine {
	t.Helper()
	engine, err := NewEngine(Config{
		Roles:        Roles{Inspector: testInspector, Lender: testLender, Seller: testSeller},
		RegistryAddr: newTestAddress(0xDD),
		CustodyAddr:  testCustody,
		Policy:       CancelPolicy{ForfeitOnPassedInspection: true},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(state)
	engine.SetRegistry(reg)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	return engine
}

// listDeed mints asset 1 to the seller, approves the ledger and lists it with
// the given terms, mirroring the canonical listing fixture.
func listDeed(t *testing.T, engine *Engine, reg *mockRegistry, price, earnest int64) {
	t.Helper()
	reg.mint(testSeller, 1)
	reg.approve(1, testCustody)
	if _, err := engine.List(testSeller, 1, big.NewInt(price), big.NewInt(earnest), testBuyer); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestNewEngineRequiresRoles(t *testing.T) {
	_, err := NewEngine(Config{CustodyAddr: testCustody})
	if err == nil {
		t.Fatalf("expected error for missing inspector")
	}
	_, err = NewEngine(Config{
		Roles:       Roles{Inspector: testInspector, Lender: testLender},
		CustodyAddr: testCustody,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListTransfersDeedToCustody(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)

	owner, err := reg.OwnerOf(1)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != testCustody {
		t.Fatalf("expected ledger custody of the deed, owner=%x", owner)
	}
	if !engine.IsListed(1) {
		t.Fatalf("expected listing to be active")
	}
	if got := engine.PurchasePrice(1).String(); got != "1000" {
		t.Fatalf("unexpected purchase price: %s", got)
	}
	if got := engine.EscrowAmount(1).String(); got != "500" {
		t.Fatalf("unexpected escrow amount: %s", got)
	}
	if engine.Buyer(1) != testBuyer {
		t.Fatalf("unexpected buyer")
	}
	if engine.SellerOf(1) != testSeller {
		t.Fatalf("unexpected seller")
	}
}

func TestListRejectsNonOwner(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	reg.mint(testSeller, 1)
	reg.approve(1, testCustody)

	_, err := engine.List(testOutsider, 1, big.NewInt(100), big.NewInt(50), testBuyer)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if engine.IsListed(1) {
		t.Fatalf("listing must not exist after rejected call")
	}
}

func TestListWithoutTransferAuthorizationFails(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	reg.mint(testSeller, 1)

	_, err := engine.List(testSeller, 1, big.NewInt(100), big.NewInt(50), testBuyer)
	if !errors.Is(err, ErrRegistryTransfer) {
		t.Fatalf("expected ErrRegistryTransfer, got %v", err)
	}
	if owner, _ := reg.OwnerOf(1); owner != testSeller {
		t.Fatalf("deed must stay with the seller")
	}
	if engine.IsListed(1) {
		t.Fatalf("no listing may be created when the pull fails")
	}
}

func TestListRejectsRelisting(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)

	_, err := engine.List(testSeller, 1, big.NewInt(1_000), big.NewInt(500), testBuyer)
	if !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("expected ErrAlreadyListed, got %v", err)
	}
}

func TestListRejectsEscrowAbovePrice(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	reg.mint(testSeller, 1)
	reg.approve(1, testCustody)

	_, err := engine.List(testSeller, 1, big.NewInt(100), big.NewInt(200), testBuyer)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestDepositEarnestOnlyBuyer(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	state.setBalance(testBuyer, 2_000)
	state.setBalance(testOutsider, 2_000)

	if err := engine.DepositEarnest(testOutsider, 1, big.NewInt(500)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.DepositEarnest(testSeller, 1, big.NewInt(500)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for seller, got %v", err)
	}
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := engine.GetBalance().String(); got != "500" {
		t.Fatalf("expected pooled balance 500, got %s", got)
	}
	if got := engine.DepositedAmount(1).String(); got != "500" {
		t.Fatalf("expected deposited 500, got %s", got)
	}

	// Deposits beyond the agreed earnest are accepted; only settlement
	// checks the total.
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(700)); err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if got := engine.DepositedAmount(1).String(); got != "1200" {
		t.Fatalf("expected deposited 1200, got %s", got)
	}
	if got := engine.EscrowBalance(1).String(); got != "1200" {
		t.Fatalf("expected custody 1200, got %s", got)
	}
}

func TestDepositRequiresFunds(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	state.setBalance(testBuyer, 100)

	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(500)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := engine.GetBalance().String(); got != "0" {
		t.Fatalf("no funds may move on failure, pooled=%s", got)
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)

	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestUpdateInspectionStatusOnlyInspector(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)

	if err := engine.UpdateInspectionStatus(testBuyer, 1, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.UpdateInspectionStatus(testInspector, 1, true); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	if !engine.InspectionPassed(1) {
		t.Fatalf("expected inspection flag set")
	}
	// Last write wins.
	if err := engine.UpdateInspectionStatus(testInspector, 1, false); err != nil {
		t.Fatalf("inspection revert: %v", err)
	}
	if engine.InspectionPassed(1) {
		t.Fatalf("expected inspection flag cleared")
	}
}

func TestApproveSaleRolesAndIdempotence(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)

	if err := engine.ApproveSale(testOutsider, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.ApproveSale(testInspector, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("inspector holds no approval role, got %v", err)
	}
	if err := engine.ApproveSale(testBuyer, 1); err != nil {
		t.Fatalf("buyer approve: %v", err)
	}
	if !engine.Approval(1, testBuyer) {
		t.Fatalf("expected buyer approval recorded")
	}
	// Approvals for distinct principals are independent.
	if engine.Approval(1, testSeller) || engine.Approval(1, testLender) {
		t.Fatalf("unexpected approval flags for other principals")
	}
	// Second call by the same principal is a no-op success.
	if err := engine.ApproveSale(testBuyer, 1); err != nil {
		t.Fatalf("repeat approve: %v", err)
	}
	if err := engine.ApproveSale(testSeller, 1); err != nil {
		t.Fatalf("seller approve: %v", err)
	}
	if err := engine.ApproveSale(testLender, 1); err != nil {
		t.Fatalf("lender approve: %v", err)
	}
	for _, principal := range [][20]byte{testBuyer, testSeller, testLender} {
		if !engine.Approval(1, principal) {
			t.Fatalf("expected approval for %x", principal[:1])
		}
	}
}

func TestFundLoanOnlyLender(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	state.setBalance(testLender, 1_000)
	state.setBalance(testBuyer, 1_000)

	if err := engine.FundLoan(testBuyer, 1, big.NewInt(500)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.FundLoan(testLender, 1, big.NewInt(500)); err != nil {
		t.Fatalf("fund loan: %v", err)
	}
	if got := engine.EscrowBalance(1).String(); got != "500" {
		t.Fatalf("expected custody 500, got %s", got)
	}
	if got := engine.DepositedAmount(1).String(); got != "0" {
		t.Fatalf("loan funds must not count as earnest, got %s", got)
	}
}

func settleReady(t *testing.T, engine *Engine, state *mockState) {
	t.Helper()
	state.setBalance(testBuyer, 2_000)
	state.setBalance(testLender, 2_000)
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.FundLoan(testLender, 1, big.NewInt(500)); err != nil {
		t.Fatalf("fund loan: %v", err)
	}
	if err := engine.UpdateInspectionStatus(testInspector, 1, true); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	for _, principal := range [][20]byte{testBuyer, testSeller, testLender} {
		if err := engine.ApproveSale(principal, 1); err != nil {
			t.Fatalf("approve %x: %v", principal[:1], err)
		}
	}
}

func TestFinalizeSaleHappyPath(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	listDeed(t, engine, reg, 1_000, 500)
	settleReady(t, engine, state)

	if err := engine.FinalizeSale(testSeller, 1); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if owner, _ := reg.OwnerOf(1); owner != testBuyer {
		t.Fatalf("expected deed with buyer, owner=%x", owner)
	}
	if got := state.balance(testSeller); got != "1000" {
		t.Fatalf("expected seller paid 1000, got %s", got)
	}
	if engine.IsListed(1) {
		t.Fatalf("expected listing closed")
	}
	if got := engine.GetBalance().String(); got != "0" {
		t.Fatalf("expected empty custody, got %s", got)
	}
	listing, ok := engine.Listing(1)
	if !ok || listing.Status != ListingSettled {
		t.Fatalf("expected settled record retained, got %+v", listing)
	}
	emitted := emitter.eventTypes()
	if len(emitted) == 0 || emitted[len(emitted)-1] != EventTypeSettled {
		t.Fatalf("expected settled event last, got %v", emitted)
	}
}

func TestFinalizeRefundsExcessToBuyer(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	settleReady(t, engine, state)
	// Top up beyond the purchase price.
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(300)); err != nil {
		t.Fatalf("extra deposit: %v", err)
	}

	if err := engine.FinalizeSale(testBuyer, 1); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// Buyer paid 800 in total, got 300 back: 2000-800+300 = 1500.
	if got := state.balance(testBuyer); got != "1500" {
		t.Fatalf("expected buyer balance 1500, got %s", got)
	}
	if got := state.balance(testSeller); got != "1000" {
		t.Fatalf("expected seller paid exactly the price, got %s", got)
	}
}

func TestFinalizeRequiresEachCondition(t *testing.T) {
	cases := []struct {
		name string
		omit func(e *Engine, t *testing.T)
	}{
		{"inspection", func(e *Engine, t *testing.T) {
			if err := e.UpdateInspectionStatus(testInspector, 1, false); err != nil {
				t.Fatalf("clear inspection: %v", err)
			}
		}},
		{"buyer approval", nil},
		{"seller approval", nil},
		{"lender approval", nil},
	}
	approvers := map[string][20]byte{
		"buyer approval":  testBuyer,
		"seller approval": testSeller,
		"lender approval": testLender,
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := newMockState()
			reg := newMockRegistry()
			engine := newTestEngine(t, state, reg)
			listDeed(t, engine, reg, 1_000, 500)
			state.setBalance(testBuyer, 2_000)
			if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(1_000)); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			if err := engine.UpdateInspectionStatus(testInspector, 1, true); err != nil {
				t.Fatalf("inspection: %v", err)
			}
			skip, isApproval := approvers[tc.name]
			for _, principal := range [][20]byte{testBuyer, testSeller, testLender} {
				if isApproval && principal == skip {
					continue
				}
				if err := engine.ApproveSale(principal, 1); err != nil {
					t.Fatalf("approve: %v", err)
				}
			}
			if tc.omit != nil {
				tc.omit(engine, t)
			}
			err := engine.FinalizeSale(testSeller, 1)
			if !errors.Is(err, ErrConditionsNotMet) {
				t.Fatalf("expected ErrConditionsNotMet, got %v", err)
			}
			if !engine.IsListed(1) {
				t.Fatalf("listing must stay open on failed settlement")
			}
		})
	}
}

func TestFinalizeInsufficientFunds(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	state.setBalance(testBuyer, 2_000)
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.UpdateInspectionStatus(testInspector, 1, true); err != nil {
		t.Fatalf("inspection: %v", err)
	}
	for _, principal := range [][20]byte{testBuyer, testSeller, testLender} {
		if err := engine.ApproveSale(principal, 1); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}

	if err := engine.FinalizeSale(testSeller, 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if owner, _ := reg.OwnerOf(1); owner != testCustody {
		t.Fatalf("deed must stay in custody on failed settlement")
	}
}

func TestFinalizeCallerPolicy(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	settleReady(t, engine, state)

	for _, caller := range [][20]byte{testLender, testInspector, testOutsider} {
		if err := engine.FinalizeSale(caller, 1); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %x, got %v", caller[:1], err)
		}
	}
	if err := engine.FinalizeSale(testBuyer, 1); err != nil {
		t.Fatalf("buyer finalize: %v", err)
	}
}

func TestMutationsOnClosedRecordFail(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	settleReady(t, engine, state)
	if err := engine.FinalizeSale(testSeller, 1); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(100)); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed, got %v", err)
	}
	if err := engine.ApproveSale(testBuyer, 1); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed for approve, got %v", err)
	}
	if err := engine.UpdateInspectionStatus(testInspector, 1, true); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed for inspection, got %v", err)
	}
	if err := engine.FinalizeSale(testSeller, 1); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed for repeat finalize, got %v", err)
	}
	// A settled id can never be listed again.
	if _, err := engine.List(testBuyer, 1, big.NewInt(1), big.NewInt(1), testSeller); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("expected ErrAlreadyListed, got %v", err)
	}
}

func TestOperationsOnUnknownAsset(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)

	if err := engine.DepositEarnest(testBuyer, 9, big.NewInt(1)); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if err := engine.ApproveSale(testBuyer, 9); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if engine.IsListed(9) {
		t.Fatalf("unknown asset must read as unlisted")
	}
	if got := engine.PurchasePrice(9).String(); got != "0" {
		t.Fatalf("unknown asset must read zero price, got %s", got)
	}
}

func TestCancelRefundsBuyerBeforeInspection(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	state.setBalance(testBuyer, 2_000)
	state.setBalance(testLender, 2_000)
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.FundLoan(testLender, 1, big.NewInt(400)); err != nil {
		t.Fatalf("fund loan: %v", err)
	}

	if err := engine.CancelSale(testOutsider, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.CancelSale(testBuyer, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := state.balance(testBuyer); got != "2000" {
		t.Fatalf("expected buyer made whole, got %s", got)
	}
	if got := state.balance(testLender); got != "2000" {
		t.Fatalf("expected lender made whole, got %s", got)
	}
	if owner, _ := reg.OwnerOf(1); owner != testSeller {
		t.Fatalf("expected deed returned to seller")
	}
	listing, _ := engine.Listing(1)
	if listing.Status != ListingCancelled {
		t.Fatalf("expected cancelled status, got %s", listing.Status)
	}
}

func TestCancelForfeitsEarnestAfterPassedInspection(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	listDeed(t, engine, reg, 1_000, 500)
	state.setBalance(testBuyer, 2_000)
	state.setBalance(testLender, 2_000)
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.FundLoan(testLender, 1, big.NewInt(400)); err != nil {
		t.Fatalf("fund loan: %v", err)
	}
	if err := engine.UpdateInspectionStatus(testInspector, 1, true); err != nil {
		t.Fatalf("inspection: %v", err)
	}

	if err := engine.CancelSale(testSeller, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := state.balance(testSeller); got != "500" {
		t.Fatalf("expected earnest forfeited to seller, got %s", got)
	}
	if got := state.balance(testBuyer); got != "1500" {
		t.Fatalf("expected buyer down the earnest, got %s", got)
	}
	if got := state.balance(testLender); got != "2000" {
		t.Fatalf("loan funds always return to the lender, got %s", got)
	}
}

func TestCancelPolicyDisabledRefundsBuyer(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine, err := NewEngine(Config{
		Roles:        Roles{Inspector: testInspector, Lender: testLender, Seller: testSeller},
		RegistryAddr: newTestAddress(0xDD),
		CustodyAddr:  testCustody,
		Policy:       CancelPolicy{ForfeitOnPassedInspection: false},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(state)
	engine.SetRegistry(reg)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	listDeed(t, engine, reg, 1_000, 500)
	state.setBalance(testBuyer, 2_000)
	if err := engine.DepositEarnest(testBuyer, 1, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.UpdateInspectionStatus(testInspector, 1, true); err != nil {
		t.Fatalf("inspection: %v", err)
	}

	if err := engine.CancelSale(testSeller, 1); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := state.balance(testBuyer); got != "2000" {
		t.Fatalf("expected buyer refunded under lenient policy, got %s", got)
	}
	if got := state.balance(testSeller); got != "0" {
		t.Fatalf("expected no forfeit, got %s", got)
	}
}

func TestEventSequenceOnHappyPath(t *testing.T) {
	state := newMockState()
	reg := newMockRegistry()
	engine := newTestEngine(t, state, reg)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	listDeed(t, engine, reg, 1_000, 500)
	settleReady(t, engine, state)
	if err := engine.FinalizeSale(testSeller, 1); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	want := []string{
		EventTypeListed,
		EventTypeDeposited,
		EventTypeLoanFunded,
		EventTypeInspectionUpdated,
		EventTypeApproved,
		EventTypeApproved,
		EventTypeApproved,
		EventTypeSettled,
	}
	got := emitter.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
