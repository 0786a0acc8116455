package rootchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rootchild-bridge/relayer/pkg/bridgeerr"
)

const chainManagerABI = `[
	{"name":"setMerkleRoot","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"root","type":"bytes32"}],"outputs":[]}
]`

var chainManager abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(chainManagerABI))
	if err != nil {
		panic(fmt.Sprintf("rootchain: invalid chain manager ABI: %v", err))
	}
	chainManager = parsed
}

// SignedMerkleTx is a fully signed setMerkleRoot transaction ready to
// broadcast and persist.
type SignedMerkleTx struct {
	Tx       *types.Transaction
	RawBytes []byte
	Hash     common.Hash
	Nonce    uint64
	GasPrice *big.Int
}

// BuildSetMerkleRootTx signs a setMerkleRoot(root) call at gasPrice using
// the client's configured signer, chain manager address, and max gas.
func (c *Client) BuildSetMerkleRootTx(root [32]byte, nonce uint64, gasPrice *big.Int, gasLimit uint64) (*SignedMerkleTx, error) {
	data, err := chainManager.Pack("setMerkleRoot", root)
	if err != nil {
		return nil, fmt.Errorf("pack setMerkleRoot: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.chainManager,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.signer)
	if err != nil {
		return nil, fmt.Errorf("sign setMerkleRoot tx: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal setMerkleRoot tx: %w", err)
	}

	return &SignedMerkleTx{
		Tx:       signed,
		RawBytes: raw,
		Hash:     signed.Hash(),
		Nonce:    nonce,
		GasPrice: gasPrice,
	}, nil
}

// NextGasPrice implements the escalation policy: bump the prior attempt's
// gas price by 5%, but never below the network's current suggestion, and
// report whether it would exceed maxGasPrice (the caller should then stop
// escalating and only keep waiting).
func NextGasPrice(existing, current, maxGasPrice *big.Int) (next *big.Int, exceedsMax bool) {
	escalated := new(big.Int).Mul(existing, big.NewInt(105))
	escalated.Div(escalated, big.NewInt(100))
	if escalated.Cmp(current) < 0 {
		escalated = new(big.Int).Set(current)
	}
	if maxGasPrice != nil && escalated.Cmp(maxGasPrice) > 0 {
		return escalated, true
	}
	return escalated, false
}

const erc20MetadataABI = `[
	{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]}
]`

var erc20Metadata abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20MetadataABI))
	if err != nil {
		panic(fmt.Sprintf("rootchain: invalid erc20 metadata ABI: %v", err))
	}
	erc20Metadata = parsed
}

// ERC20Metadata reads the name and decimals of a ROOT token. Nothing in
// the relayer calls it: token_maps rows take the name and decimals from
// the TokenMapAdded event's own data.
func (c *Client) ERC20Metadata(ctx context.Context, token common.Address) (name string, decimals uint8, err error) {
	nameData, _ := erc20Metadata.Pack("name")
	nameOut, err := c.eth.CallContract(ctx, ethCallMsg(token, nameData), nil)
	if err != nil {
		return "", 0, bridgeerr.New(bridgeerr.KindTransient, "ERC20Metadata.name", err)
	}
	unpacked, err := erc20Metadata.Unpack("name", nameOut)
	if err != nil || len(unpacked) != 1 {
		return "", 0, bridgeerr.New(bridgeerr.KindDecode, "ERC20Metadata.name", fmt.Errorf("unexpected name() return: %w", err))
	}
	name, _ = unpacked[0].(string)

	decData, _ := erc20Metadata.Pack("decimals")
	decOut, err := c.eth.CallContract(ctx, ethCallMsg(token, decData), nil)
	if err != nil {
		return "", 0, bridgeerr.New(bridgeerr.KindTransient, "ERC20Metadata.decimals", err)
	}
	unpacked, err = erc20Metadata.Unpack("decimals", decOut)
	if err != nil || len(unpacked) != 1 {
		return "", 0, bridgeerr.New(bridgeerr.KindDecode, "ERC20Metadata.decimals", fmt.Errorf("unexpected decimals() return: %w", err))
	}
	decimals, _ = unpacked[0].(uint8)
	return name, decimals, nil
}

func ethCallMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}
