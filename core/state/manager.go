package state

import (
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"deedvault/core/types"
	"deedvault/native/escrow"
)

// vaultSeed derives the custody vault account the ledger pools funds under.
// The address only needs to be well-known and collision-free inside the
// process; it is not a spendable key.
const vaultSeed = "deedvault/escrow/vault"

// Manager is the in-process state backend for the deed ledger: principal
// accounts, listing records, and per-listing custody balances. Records are
// never deleted; closed listings stay behind for audit. The embedding
// process owns durability, so everything here lives in memory.
type Manager struct {
	mu       sync.RWMutex
	accounts map[[20]byte]*types.Account
	listings map[uint64]*escrow.Listing
	custody  map[uint64]*big.Int
	vault    [20]byte
}

// NewManager returns an empty state manager.
func NewManager() *Manager {
	var vault [20]byte
	copy(vault[:], ethcrypto.Keccak256([]byte(vaultSeed))[12:])
	return &Manager{
		accounts: make(map[[20]byte]*types.Account),
		listings: make(map[uint64]*escrow.Listing),
		custody:  make(map[uint64]*big.Int),
		vault:    vault,
	}
}

func accountKey(addr []byte) ([20]byte, error) {
	var key [20]byte
	if len(addr) != 20 {
		return key, fmt.Errorf("state: account address must be 20 bytes, got %d", len(addr))
	}
	copy(key[:], addr)
	return key, nil
}

// GetAccount returns a copy of the account for the given address. Unknown
// addresses yield a fresh zero-balance account.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	key, err := accountKey(addr)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if acc, ok := m.accounts[key]; ok {
		return acc.Clone(), nil
	}
	return types.NewAccount(), nil
}

// PutAccount stores a copy of the account under the given address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	key, err := accountKey(addr)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[key] = account.Clone()
	return nil
}

// ListingPut validates and persists the listing record.
func (m *Manager) ListingPut(l *escrow.Listing) error {
	sanitized, err := escrow.SanitizeListing(l)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[sanitized.AssetID] = sanitized
	return nil
}

// ListingGet returns a copy of the listing keyed by the asset id.
func (m *Manager) ListingGet(assetID uint64) (*escrow.Listing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[assetID]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// EscrowCredit increases the custody balance held for one listing.
func (m *Manager) EscrowCredit(assetID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[assetID]; !ok {
		return fmt.Errorf("state: no listing for asset %d", assetID)
	}
	current := big.NewInt(0)
	if existing, ok := m.custody[assetID]; ok && existing != nil {
		current = new(big.Int).Set(existing)
	}
	m.custody[assetID] = current.Add(current, amt)
	return nil
}

// EscrowDebit decreases the custody balance held for one listing.
func (m *Manager) EscrowDebit(assetID uint64, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: debit amount must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current := big.NewInt(0)
	if existing, ok := m.custody[assetID]; ok && existing != nil {
		current = new(big.Int).Set(existing)
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: custody balance %s short of debit %s", current, amt)
	}
	current.Sub(current, amt)
	if current.Sign() == 0 {
		delete(m.custody, assetID)
	} else {
		m.custody[assetID] = current
	}
	return nil
}

// EscrowBalance returns the custody balance held for one listing.
func (m *Manager) EscrowBalance(assetID uint64) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if existing, ok := m.custody[assetID]; ok && existing != nil {
		return new(big.Int).Set(existing), nil
	}
	return big.NewInt(0), nil
}

// EscrowVaultAddress returns the account all custody funds pool under.
func (m *Manager) EscrowVaultAddress() ([20]byte, error) {
	return m.vault, nil
}
