// Package rootchain talks to the EVM ROOT chain: decoding the bridge's
// deposit/token-map/withdraw-confirmation/merkle-root events inside a
// confirmation window, and building, signing, and gas-escalating the
// setMerkleRoot transactions the Merkle set worker sends back.
//
// Grounded on the teacher's pkg/ethereum/client.go (ethclient wrapping,
// transactor/nonce/gas-price helpers) and pkg/anchor/event_watcher.go
// (ABI-driven log decoding, confirmation-windowed polling), generalized
// to the event set and gas-escalation policy in
// original_source/relayer/src/merkle.rs and root_chain_manager.rs.
package rootchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
)

// Client wraps an ethclient.Client with the signer and contract addresses
// the relayer needs on ROOT.
type Client struct {
	eth             *ethclient.Client
	chainID         *big.Int
	stateSender     common.Address
	chainManager    common.Address
	signer          *ecdsa.PrivateKey
	signerAddr      common.Address
}

// NewClient dials endpoint and derives the signer's address from key.
func NewClient(endpoint string, chainID int64, stateSender, chainManager common.Address, key *ecdsa.PrivateKey) (*Client, error) {
	eth, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial root endpoint: %w", err)
	}
	return &Client{
		eth:          eth,
		chainID:      big.NewInt(chainID),
		stateSender:  stateSender,
		chainManager: chainManager,
		signer:       key,
		signerAddr:   crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.eth.Close() }

// HeadNumber returns the current chain head height.
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, bridgeerr.New(bridgeerr.KindTransient, "HeadNumber", err)
	}
	return n, nil
}

// Balance returns the signer's ETH balance, for the metrics tick.
func (c *Client) Balance(ctx context.Context) (*big.Int, error) {
	bal, err := c.eth.BalanceAt(ctx, c.signerAddr, nil)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransient, "Balance", err)
	}
	return bal, nil
}

// PendingNonce returns the account's next usable nonce, including
// transactions still in the mempool.
func (c *Client) PendingNonce(ctx context.Context) (uint64, error) {
	n, err := c.eth.PendingNonceAt(ctx, c.signerAddr)
	if err != nil {
		return 0, bridgeerr.New(bridgeerr.KindTransient, "PendingNonce", err)
	}
	return n, nil
}

// SuggestGasPrice returns the network's current suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	p, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransient, "SuggestGasPrice", err)
	}
	return p, nil
}

// SendRawTransaction broadcasts a fully-signed transaction.
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return bridgeerr.New(bridgeerr.KindTransient, "SendRawTransaction", err)
	}
	return nil
}

// TransactionReceipt fetches the receipt for hash, or (nil, nil) if it is
// not yet mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		if err.Error() == "not found" {
			return nil, nil
		}
		return nil, bridgeerr.New(bridgeerr.KindTransient, "TransactionReceipt", err)
	}
	return r, nil
}

// SignerAddress returns the relayer's ROOT signing address.
func (c *Client) SignerAddress() common.Address { return c.signerAddr }

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int { return c.chainID }

// NewKeyedTransactor builds a *bind.TransactOpts for one-off bound-contract
// calls (ERC-20 metadata discovery).
func (c *Client) NewKeyedTransactor() (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(c.signer, c.chainID)
}

// EthClient exposes the raw ethclient for bound-contract construction.
func (c *Client) EthClient() *ethclient.Client { return c.eth }
