// Command root-inspect fetches a ROOT transaction's receipt and prints
// every bridge event it emitted, human-readable, for operators debugging
// a specific deposit or withdrawal without a block explorer.
//
// Grounded on original_source/relayer/src/bin/ethereum_inspector.rs
// (same purpose, same per-event-type printout), rebuilt on the teacher's
// flag-based CLI idiom (main.go's flag.String/flag.Bool) instead of
// clap, and on this relayer's own pkg/rootchain event ABI instead of
// re-deriving one from ethers-rs bindings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/rootchild-bridge/relayer/pkg/rootchain"
)

func main() {
	var (
		txHex         = flag.String("tx", "", "ROOT transaction hash to inspect")
		stateSender   = flag.String("state-sender", "", "ROOT state sender contract address")
		endpoint      = flag.String("api", "", "ROOT JSON-RPC endpoint")
		requestTimeout = flag.Duration("timeout", 10*time.Second, "Request timeout")
	)
	flag.Parse()

	if *txHex == "" || *stateSender == "" || *endpoint == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*endpoint, *stateSender, *txHex, *requestTimeout); err != nil {
		log.Fatal(err)
	}
}

func run(endpoint, stateSenderHex, txHex string, timeout time.Duration) error {
	eth, err := ethclient.Dial(endpoint)
	if err != nil {
		return fmt.Errorf("dial ROOT endpoint: %w", err)
	}
	defer eth.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	receipt, err := eth.TransactionReceipt(ctx, common.HexToHash(txHex))
	if err != nil {
		return fmt.Errorf("fetch transaction receipt: %w", err)
	}

	stateSender := common.HexToAddress(stateSenderHex)
	found := false
	for _, l := range receipt.Logs {
		if l.Address != stateSender {
			continue
		}
		var batch rootchain.DecodedBatch
		if err := rootchain.DecodeLog(&batch, *l); err != nil {
			fmt.Printf("log %d: could not decode: %v\n", l.Index, err)
			continue
		}
		found = true
		printBatch(batch)
	}
	if !found {
		fmt.Println("no bridge events from the state sender in this transaction")
	}
	return nil
}

func printBatch(batch rootchain.DecodedBatch) {
	for _, d := range batch.Deposits {
		fmt.Println("Deposited")
		fmt.Printf("  event id      = %s\n", d.OriginEventID)
		fmt.Printf("  depositor     = 0x%x\n", d.Depositor)
		fmt.Printf("  root token    = 0x%x\n", d.RootToken)
		fmt.Printf("  amount        = %s\n", d.Amount)
		fmt.Printf("  CCD receiver  = 0x%x\n", d.CCDReceiver)
	}
	for _, t := range batch.TokenMaps {
		if t.Added {
			fmt.Println("Token map added")
		} else {
			fmt.Println("Token map removed")
		}
		fmt.Printf("  event id      = %s\n", t.OriginEventID)
		fmt.Printf("  root token    = 0x%x\n", t.RootToken)
		fmt.Printf("  child contract = <%d, %d>\n", t.ChildIndex, t.ChildSubindex)
		fmt.Printf("  eth name      = %s\n", t.EthName)
		fmt.Printf("  decimals      = %d\n", t.Decimals)
	}
	for _, w := range batch.WithdrawConfirms {
		fmt.Println("Withdraw confirmed")
		fmt.Printf("  event id            = %s\n", w.OriginEventID)
		fmt.Printf("  amount              = %s\n", w.Amount)
		fmt.Printf("  receiver            = 0x%x\n", w.Receiver)
		fmt.Printf("  CHILD tx hash       = 0x%x\n", w.OriginChildTxHash)
		fmt.Printf("  CHILD event index   = %d\n", w.OriginChildEventIndex)
	}
	for _, m := range batch.MerkleConfirmed {
		fmt.Println("Set Merkle root")
		fmt.Printf("  tx hash = 0x%x\n", m.TxHash)
		fmt.Printf("  root    = 0x%x\n", m.Root)
	}
}
