package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"deedvault/config"
	"deedvault/core/events"
	"deedvault/core/state"
	"deedvault/core/types"
	"deedvault/crypto"
	"deedvault/native/escrow"
	"deedvault/native/registry"
	"deedvault/observability/logging"
)

// deedsale walks a tokenized property deed through a full escrowed sale:
// list, earnest deposit, loan funding, inspection, approvals, settlement.
// Party addresses come from the config file when present; otherwise fresh
// keys are generated so the walkthrough is self-contained.

func main() {
	configFile := flag.String("config", "./deedvault.toml", "Path to the configuration file")
	metadataRef := flag.String("deed", "ipfs://QmDeed/1.json", "Metadata reference for the minted deed")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DEEDVAULT_ENV"))
	logger := logging.Setup("deedsale", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	seller := resolveParty(logger, cfg.Seller, "seller")
	buyer := resolveParty(logger, "", "buyer")
	inspector := resolveParty(logger, cfg.Inspector, "inspector")
	lender := resolveParty(logger, cfg.Lender, "lender")

	var custody, registryAddr [20]byte
	copy(custody[:], ethcrypto.Keccak256([]byte("deedvault/ledger/custody"))[12:])
	copy(registryAddr[:], ethcrypto.Keccak256([]byte("deedvault/ledger/registry"))[12:])

	manager := state.NewManager()
	deeds := registry.NewRegistry()
	engine, err := escrow.NewEngine(escrow.Config{
		Roles:        escrow.Roles{Inspector: inspector, Lender: lender, Seller: seller},
		RegistryAddr: registryAddr,
		CustodyAddr:  custody,
		Policy:       cfg.Policy(),
	})
	if err != nil {
		logger.Error("Failed to construct escrow engine", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(manager)
	engine.SetRegistry(deeds)
	engine.SetEmitter(logEmitter{logger: logger})

	price := tokens(10)
	earnest := tokens(5)

	deedID, err := deeds.Mint(seller, *metadataRef)
	if err != nil {
		fatal(logger, "mint deed", err)
	}
	if err := deeds.Approve(seller, deedID, custody); err != nil {
		fatal(logger, "approve custody", err)
	}
	if _, err := engine.List(seller, deedID, price, earnest, buyer); err != nil {
		fatal(logger, "list deed", err)
	}
	logger.Info("Deed listed",
		slog.Uint64("assetid", deedID),
		slog.String("amount", price.String()),
		logging.MaskField("metadata", *metadataRef))

	fund(logger, manager, buyer, tokens(20))
	fund(logger, manager, lender, tokens(20))

	if err := engine.DepositEarnest(buyer, deedID, earnest); err != nil {
		fatal(logger, "deposit earnest", err)
	}
	if err := engine.FundLoan(lender, deedID, new(big.Int).Sub(price, earnest)); err != nil {
		fatal(logger, "fund loan", err)
	}
	if err := engine.UpdateInspectionStatus(inspector, deedID, true); err != nil {
		fatal(logger, "record inspection", err)
	}
	for _, principal := range [][20]byte{buyer, seller, lender} {
		if err := engine.ApproveSale(principal, deedID); err != nil {
			fatal(logger, "approve sale", err)
		}
	}
	logger.Info("Settlement conditions met",
		slog.Uint64("assetid", deedID),
		slog.String("amount", engine.GetBalance().String()))

	if err := engine.FinalizeSale(seller, deedID); err != nil {
		fatal(logger, "finalize sale", err)
	}
	owner, err := deeds.OwnerOf(deedID)
	if err != nil {
		fatal(logger, "look up owner", err)
	}
	logger.Info("Sale settled",
		slog.Uint64("assetid", deedID),
		slog.String("status", "settled"),
		slog.String("owner", crypto.MustNewAddress(crypto.DeedPrefix, owner[:]).String()))
}

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// resolveParty decodes a configured bech32 address or generates a throwaway
// key when the config leaves the role blank.
func resolveParty(logger *slog.Logger, configured, role string) [20]byte {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			logger.Error("Invalid configured address", slog.String("component", role), slog.Any("error", err))
			os.Exit(1)
		}
		return addr.Raw()
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		logger.Error("Failed to generate key", slog.String("component", role), slog.Any("error", err))
		os.Exit(1)
	}
	addr := key.PubKey().Address()
	logger.Info("Generated party key", slog.String("component", role), slog.String("address", addr.String()))
	return addr.Raw()
}

func fund(logger *slog.Logger, manager *state.Manager, who [20]byte, amount *big.Int) {
	if err := manager.PutAccount(who[:], &types.Account{Balance: amount}); err != nil {
		fatal(logger, "fund account", err)
	}
}

func fatal(logger *slog.Logger, op string, err error) {
	logger.Error(fmt.Sprintf("Failed to %s", op), slog.String("op", op), slog.Any("error", err))
	os.Exit(1)
}

// logEmitter forwards ledger events to the structured logger.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	l.logger.Info("Ledger event", slog.String("op", evt.EventType()))
}
