package registry

import (
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"deedvault/core/events"
)

// Registry is the reference in-memory deed registry. It owns asset identity:
// minting, ownership lookups, and approval-gated transfers, following the
// standard transfer-authorization discipline. Token ids are opaque to
// consumers; the ledger only joins on them.
type Registry struct {
	mu        sync.RWMutex
	nextID    uint64
	owners    map[uint64][20]byte
	approvals map[uint64][20]byte
	tokenURIs map[uint64]string
	metaHash  map[uint64][32]byte
	emitter   events.Emitter
}

// NewRegistry creates an empty registry. Token ids are assigned sequentially
// starting at 1.
func NewRegistry() *Registry {
	return &Registry{
		nextID:    1,
		owners:    make(map[uint64][20]byte),
		approvals: make(map[uint64][20]byte),
		tokenURIs: make(map[uint64]string),
		metaHash:  make(map[uint64][32]byte),
		emitter:   events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used to broadcast registry updates.
// Passing nil resets the emitter to a no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Mint creates a new deed token owned by the given principal and returns its
// id. The metadata reference is stored verbatim alongside its keccak digest.
func (r *Registry) Mint(owner [20]byte, metadataRef string) (uint64, error) {
	var zero [20]byte
	if owner == zero {
		return 0, fmt.Errorf("%w: mint to zero owner", ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.owners[id] = owner
	r.tokenURIs[id] = metadataRef
	r.metaHash[id] = ethcrypto.Keccak256Hash([]byte(metadataRef))
	r.emit(newMintedEvent(id, owner, metadataRef))
	return id, nil
}

// OwnerOf returns the current owner of the token.
func (r *Registry) OwnerOf(tokenID uint64) ([20]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return [20]byte{}, fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	return owner, nil
}

// TokenURI returns the metadata reference recorded at mint time.
func (r *Registry) TokenURI(tokenID uint64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uri, ok := r.tokenURIs[tokenID]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	return uri, nil
}

// MetadataHash returns the keccak digest of the metadata reference.
func (r *Registry) MetadataHash(tokenID uint64) ([32]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.metaHash[tokenID]
	if !ok {
		return [32]byte{}, fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	return h, nil
}

// Approve authorizes the spender to transfer the token on the owner's behalf.
// Only the current owner may approve.
func (r *Registry) Approve(caller [20]byte, tokenID uint64, spender [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	if caller != owner {
		return fmt.Errorf("%w: only the owner may approve", ErrUnauthorized)
	}
	r.approvals[tokenID] = spender
	r.emit(newApprovedEvent(tokenID, owner, spender))
	return nil
}

// Approved returns the principal currently authorized to move the token, if
// any.
func (r *Registry) Approved(tokenID uint64) ([20]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spender, ok := r.approvals[tokenID]
	var zero [20]byte
	return spender, ok && spender != zero
}

// TransferFrom moves the token from its current owner to the recipient. The
// spender must be the current owner or hold an approval for the token; any
// outstanding approval is cleared by the transfer.
func (r *Registry) TransferFrom(spender, from, to [20]byte, tokenID uint64) error {
	var zero [20]byte
	if to == zero {
		return fmt.Errorf("%w: transfer to zero address", ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tokenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownToken, tokenID)
	}
	if from != owner {
		return fmt.Errorf("%w: %d", ErrWrongOwner, tokenID)
	}
	if spender != owner && spender != r.approvals[tokenID] {
		return fmt.Errorf("%w: spender holds no transfer authorization", ErrUnauthorized)
	}
	r.owners[tokenID] = to
	delete(r.approvals, tokenID)
	r.emit(newTransferredEvent(tokenID, from, to))
	return nil
}

func (r *Registry) emit(evt registryEvent) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(evt)
}
