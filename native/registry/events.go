package registry

import (
	"encoding/hex"
	"strconv"

	"deedvault/core/types"
)

const (
	EventTypeMinted      = "registry.minted"
	EventTypeApproved    = "registry.approved"
	EventTypeTransferred = "registry.transferred"
)

type registryEvent struct {
	evt *types.Event
}

func (e registryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e registryEvent) Event() *types.Event { return e.evt }

func newMintedEvent(tokenID uint64, owner [20]byte, metadataRef string) registryEvent {
	return registryEvent{evt: &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"tokenId":     strconv.FormatUint(tokenID, 10),
		"owner":       hex.EncodeToString(owner[:]),
		"metadataRef": metadataRef,
	}}}
}

func newApprovedEvent(tokenID uint64, owner, spender [20]byte) registryEvent {
	return registryEvent{evt: &types.Event{Type: EventTypeApproved, Attributes: map[string]string{
		"tokenId": strconv.FormatUint(tokenID, 10),
		"owner":   hex.EncodeToString(owner[:]),
		"spender": hex.EncodeToString(spender[:]),
	}}}
}

func newTransferredEvent(tokenID uint64, from, to [20]byte) registryEvent {
	return registryEvent{evt: &types.Event{Type: EventTypeTransferred, Attributes: map[string]string{
		"tokenId": strconv.FormatUint(tokenID, 10),
		"from":    hex.EncodeToString(from[:]),
		"to":      hex.EncodeToString(to[:]),
	}}}
}
