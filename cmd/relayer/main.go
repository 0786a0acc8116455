// Command relayer runs the full ROOT<->CHILD bridge pipeline: the ROOT
// and CHILD observers, the single-writer router, the CHILD transaction
// sender, and the Merkle set worker, all under one supervisor.
//
// Grounded on the teacher's main.go wiring style (flat construction in
// main, context.WithCancel + signal.Notify(SIGINT, SIGTERM) for
// shutdown) adapted from driving one CometBFT validator to driving this
// relayer's six components.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/rootchild-bridge/relayer/pkg/childchain"
	"github.com/rootchild-bridge/relayer/pkg/config"
	"github.com/rootchild-bridge/relayer/pkg/merkleworker"
	"github.com/rootchild-bridge/relayer/pkg/metrics"
	"github.com/rootchild-bridge/relayer/pkg/rootchain"
	"github.com/rootchild-bridge/relayer/pkg/router"
	"github.com/rootchild-bridge/relayer/pkg/secrets"
	"github.com/rootchild-bridge/relayer/pkg/store"
	"github.com/rootchild-bridge/relayer/pkg/supervisor"
)

func main() {
	logger := log.New(os.Stdout, "[relayer] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("relayer exited with error: %v", err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	dbClient, err := store.NewClient(cfg.DBConfig, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dbClient.MigrateUp(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	repo := store.NewRepository(dbClient)

	rootKey, err := loadRootSignerKey(cfg)
	if err != nil {
		return fmt.Errorf("load ROOT signer key: %w", err)
	}
	childKey, err := loadChildWalletKey(cfg)
	if err != nil {
		return fmt.Errorf("load CHILD wallet key: %w", err)
	}

	rootClient, err := rootchain.NewClient(cfg.RootEndpoint, cfg.RootChainID,
		common.HexToAddress(cfg.RootStateSender), common.HexToAddress(cfg.RootChainManager), rootKey)
	if err != nil {
		return fmt.Errorf("connect to ROOT: %w", err)
	}
	defer rootClient.Close()

	childClient, err := childchain.NewClient(cfg.ChildEndpoint, cfg.ChildBridgeManager)
	if err != nil {
		return fmt.Errorf("connect to CHILD: %w", err)
	}

	rootFromHeight, haveRoot, err := repo.Checkpoint(ctx, "root")
	if err != nil {
		return fmt.Errorf("load ROOT checkpoint: %w", err)
	}
	if !haveRoot {
		rootFromHeight = cfg.RootCreationBlock
	}
	childFromHeight, haveChild, err := repo.Checkpoint(ctx, "child")
	if err != nil {
		return fmt.Errorf("load CHILD checkpoint: %w", err)
	}
	var childFrom int64
	if haveChild {
		childFrom = int64(childFromHeight)
	}

	rootObs := rootchain.NewObserver(rootClient,
		[]common.Address{common.HexToAddress(cfg.RootStateSender), common.HexToAddress(cfg.RootChainManager)},
		rootchain.DefaultObserverConfig(cfg.RootConfirmations))
	childObs := childchain.NewObserver(childClient, childchain.ObserverConfig{
		PollInterval: cfg.ChildRequestTimeout, MaxParallel: cfg.ChildMaxParallel, MaxBehind: cfg.ChildMaxBehind,
	})

	startNonce, haveNonce, err := repo.NextChildNonce(ctx)
	if err != nil {
		return fmt.Errorf("load next CHILD nonce: %w", err)
	}
	if !haveNonce {
		startNonce = 0
	}
	sender := childchain.NewSender(childClient, childKey, startNonce, cfg.ChildRequestTimeout)

	unset, err := repo.UnsetWithdrawals(ctx)
	if err != nil {
		return fmt.Errorf("load unset withdrawals: %w", err)
	}
	highWater, haveHigh, err := repo.ApprovedHighWatermark(ctx)
	if err != nil {
		return fmt.Errorf("load approved high watermark: %w", err)
	}
	resume, err := repo.PendingRootMerkleUpdate(ctx)
	if err != nil {
		return fmt.Errorf("load pending merkle update: %w", err)
	}
	maxGasPrice, ok := new(big.Int).SetString(cfg.RootMaxGasPrice, 10)
	if !ok {
		return fmt.Errorf("invalid ROOT_MAX_GAS_PRICE %q", cfg.RootMaxGasPrice)
	}
	merkle := merkleworker.NewWorker(rootClient, merkleworker.Config{
		UpdateInterval:     cfg.MerkleUpdateInterval,
		EscalationInterval: cfg.MerkleEscalationInterval,
		WarnDuration:       cfg.MerkleWarnDuration,
		MaxGasPrice:        maxGasPrice,
		GasLimit:           cfg.RootMaxGas,
	}, unset, highWater, haveHigh, resume)

	rtr := router.NewRouter(repo, logger, 256)
	registry, promReg := metrics.NewRegistry()

	if cfg.PrometheusBind != "" {
		go func() {
			if err := http.ListenAndServe(cfg.PrometheusBind, metrics.Handler(promReg)); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server error: %v", err)
			}
		}()
	}

	sup := supervisor.New(supervisor.Config{
		MetricsInterval: cfg.MerkleUpdateInterval / 20,
		MerkleTick:      cfg.MerkleUpdateInterval,
	}, repo, rootClient, rootObs, childClient, childObs, sender, merkle, rtr, registry, logger)

	if err := sup.ResubmitPending(ctx); err != nil {
		return fmt.Errorf("resubmit pending CHILD transactions: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Printf("shutdown signal received")
		cancel()
	}()

	return sup.Run(ctx, rootFromHeight, childFrom)
}

func loadRootSignerKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	raw, err := secrets.Resolve(secrets.FileSource{}, cfg.RootSignerKey, cfg.RootSignerSecret)
	if err != nil {
		return nil, err
	}
	return gethcrypto.HexToECDSA(strings.TrimPrefix(string(raw), "0x"))
}

func loadChildWalletKey(cfg *config.Config) (ed25519.PrivateKey, error) {
	raw, err := secrets.Resolve(secrets.FileSource{}, cfg.ChildWalletFile, cfg.ChildWalletSecret)
	if err != nil {
		return nil, err
	}
	keyBytes, err := hex.DecodeString(strings.TrimPrefix(string(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode CHILD wallet key: %w", err)
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("CHILD wallet key must be %d bytes, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}
	return ed25519.PrivateKey(keyBytes), nil
}
