// Command apiserver runs the relayer's read-only HTTP projection API,
// independent of the pipeline process: it only needs the database and a
// ROOT client for balance lookups.
package main

import (
	"crypto/ecdsa"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/rootchild-bridge/relayer/pkg/apiserver"
	"github.com/rootchild-bridge/relayer/pkg/config"
	"github.com/rootchild-bridge/relayer/pkg/rootchain"
	"github.com/rootchild-bridge/relayer/pkg/secrets"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

func main() {
	logger := log.New(os.Stdout, "[apiserver] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(cfg.DBConfig) == "" {
		logger.Fatal("DB_CONFIG is required")
	}
	if strings.TrimSpace(cfg.APIListenAddr) == "" {
		logger.Fatal("API_LISTEN_ADDR is required")
	}

	dbClient, err := store.NewClient(cfg.DBConfig, store.WithLogger(logger))
	if err != nil {
		logger.Fatalf("connect to database: %v", err)
	}
	defer dbClient.Close()
	repo := store.NewRepository(dbClient)

	var rootClient *rootchain.Client
	if cfg.RootEndpoint != "" {
		key, err := loadRootSignerKey(cfg)
		if err != nil {
			logger.Fatalf("load ROOT signer key: %v", err)
		}
		rootClient, err = rootchain.NewClient(cfg.RootEndpoint, cfg.RootChainID,
			common.HexToAddress(cfg.RootStateSender), common.HexToAddress(cfg.RootChainManager), key)
		if err != nil {
			logger.Fatalf("connect to ROOT: %v", err)
		}
		defer rootClient.Close()
	}

	handlers := apiserver.NewHandlers(repo, rootClient, logger)
	httpServer := &http.Server{Addr: cfg.APIListenAddr, Handler: handlers.Mux()}

	logger.Printf("apiserver listening on %s", cfg.APIListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("apiserver error: %v", err)
	}
}

func loadRootSignerKey(cfg *config.Config) (*ecdsa.PrivateKey, error) {
	raw, err := secrets.Resolve(secrets.FileSource{}, cfg.RootSignerKey, cfg.RootSignerSecret)
	if err != nil {
		return nil, fmt.Errorf("resolve ROOT signer key: %w", err)
	}
	return gethcrypto.HexToECDSA(strings.TrimPrefix(string(raw), "0x"))
}
