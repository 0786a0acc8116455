// Package childchain talks to the CHILD smart-contract-platform chain,
// modeled as a CometBFT-based chain queried through its public RPC:
// finalized-block events are fetched with rpc/client/http and decoded
// with the fixed tag-byte layout in events.go, and CHILD transactions
// (ROOT deposits and token maps) are submitted with BroadcastTxSync.
//
// Grounded on the teacher's pkg/consensus/bft_integration.go for the
// CometBFT dependency surface (rpc/client/http, rpc/core/types,
// abci/types), adapted from driving an in-process validator node to
// consuming a remote chain as a light RPC client, and on
// golang.org/x/sync/errgroup (carried from the teacher's go.mod) for the
// bounded-parallel block fetch in observer.go.
package childchain

import (
	"context"
	"fmt"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
)

// Client wraps a CometBFT RPC HTTP client pointed at the CHILD chain's
// bridge manager contract.
type Client struct {
	rpc           *cmthttp.HTTP
	bridgeManager string // CHILD contract address/index identifying the bridge manager
}

// NewClient dials endpoint (e.g. "https://child-rpc.example:443").
func NewClient(endpoint, bridgeManager string) (*Client, error) {
	rpc, err := cmthttp.New(endpoint, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("dial child endpoint: %w", err)
	}
	return &Client{rpc: rpc, bridgeManager: bridgeManager}, nil
}

// LatestFinalizedHeight returns the chain's latest committed block
// height.
func (c *Client) LatestFinalizedHeight(ctx context.Context) (int64, error) {
	status, err := c.rpc.Status(ctx)
	if err != nil {
		return 0, bridgeerr.New(bridgeerr.KindTransient, "LatestFinalizedHeight", err)
	}
	return status.SyncInfo.LatestBlockHeight, nil
}

// BlockResults returns the ABCI deliver-tx events for height, the only
// per-block data the observer needs.
func (c *Client) BlockResults(ctx context.Context, height int64) (*coretypes.ResultBlockResults, error) {
	r, err := c.rpc.BlockResults(ctx, &height)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransient, "BlockResults", err)
	}
	return r, nil
}

// Block returns the full block at height, including its transactions,
// for tx hashing.
func (c *Client) Block(ctx context.Context, height int64) (*coretypes.ResultBlock, error) {
	r, err := c.rpc.Block(ctx, &height)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransient, "Block", err)
	}
	return r, nil
}

// BroadcastTxSync submits a raw transaction and waits for CheckTx (not
// full commit) before returning, matching the teacher's sync broadcast
// usage for application transactions.
func (c *Client) BroadcastTxSync(ctx context.Context, raw []byte) (*coretypes.ResultBroadcastTx, error) {
	r, err := c.rpc.BroadcastTxSync(ctx, raw)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransient, "BroadcastTxSync", err)
	}
	if r.Code != abcitypes.CodeTypeOK {
		if isDuplicateRejection(r.Code, r.Log) {
			return r, bridgeerr.New(bridgeerr.KindDomainDuplicate, "BroadcastTxSync", fmt.Errorf("%s", r.Log))
		}
		return r, fmt.Errorf("broadcast rejected: code=%d log=%s", r.Code, r.Log)
	}
	return r, nil
}

// Tx fetches a committed transaction's result by hash, for the sender's
// confirmation poller.
func (c *Client) Tx(ctx context.Context, hash []byte) (*coretypes.ResultTx, error) {
	r, err := c.rpc.Tx(ctx, hash, false)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindTransient, "Tx", err)
	}
	return r, nil
}

// duplicateRejectionCode is the ABCI response code the bridge manager's
// CHILD contract returns when an event id has already been applied.
const duplicateRejectionCode = uint32(10)

func isDuplicateRejection(code uint32, log string) bool {
	return code == duplicateRejectionCode
}
