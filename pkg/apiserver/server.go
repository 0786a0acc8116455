// Package apiserver is the relayer's read-only HTTP projection API:
// deposit/withdraw lookups, token map listing, wallet balance, Merkle
// proof reconstruction, and the next scheduled Merkle update time.
//
// Grounded on the teacher's pkg/server/proof_handlers.go (manual
// path-prefix parsing, writeJSON/writeError helpers, constructor taking
// *store.Repository + logger), generalized from proof-artifact lookups
// to the bridge's own read model.
package apiserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rootchild-bridge/relayer/pkg/merkletree"
	"github.com/rootchild-bridge/relayer/pkg/rootchain"
	"github.com/rootchild-bridge/relayer/pkg/store"
)

// Handlers serves the read-only API over a *store.Repository.
type Handlers struct {
	repo   *store.Repository
	root   *rootchain.Client
	logger *log.Logger
}

// NewHandlers constructs Handlers.
func NewHandlers(repo *store.Repository, root *rootchain.Client, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[apiserver] ", log.LstdFlags)
	}
	return &Handlers{repo: repo, root: root, logger: logger}
}

// Mux builds the HTTP routing table.
func (h *Handlers) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/deposit/", h.HandleDeposit)
	mux.HandleFunc("/withdraw/", h.HandleWithdraw)
	mux.HandleFunc("/tokens", h.HandleTokens)
	mux.HandleFunc("/wallet/", h.HandleWallet)
	mux.HandleFunc("/expectedMerkleRootUpdate", h.HandleExpectedMerkleRootUpdate)
	mux.HandleFunc("/ethereum/proof/", h.HandleEthereumProof)
	return mux
}

// HandleDeposit serves GET /deposit/{tx}.
func (h *Handlers) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	txHex := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/deposit/"), "/")
	hash, err := parseHash(txHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TX_HASH", err.Error())
		return
	}

	deposit, err := h.repo.DepositByRootTxHash(r.Context(), hash)
	if err != nil {
		h.logger.Printf("deposit lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to look up deposit")
		return
	}
	if deposit == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no deposit found for that transaction hash")
		return
	}
	writeJSON(w, http.StatusOK, depositView{
		OriginTxHash:  hex.EncodeToString(deposit.OriginTxHash[:]),
		OriginEventID: deposit.OriginEventID.String(),
		Depositor:     common.BytesToAddress(deposit.Depositor[:]).Hex(),
		RootToken:     common.BytesToAddress(deposit.RootToken[:]).Hex(),
		Amount:        deposit.Amount.String(),
		CCDReceiver:   hex.EncodeToString(deposit.CCDReceiver),
	})
}

// HandleWithdraw serves GET /withdraw/{tx}.
func (h *Handlers) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	txHex := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/withdraw/"), "/")
	hash, err := parseHash(txHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TX_HASH", err.Error())
		return
	}

	event, processedBy, err := h.repo.WithdrawByChildTxHash(r.Context(), hash)
	if err != nil {
		h.logger.Printf("withdraw lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to look up withdrawal")
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no withdrawal found for that transaction hash")
		return
	}

	view := withdrawView{
		ChildTxHash: hex.EncodeToString(event.TxHash[:]),
		EventIndex:  event.EventIndex,
		Receiver:    common.BytesToAddress(event.Receiver[:]).Hex(),
		TokenID:     event.TokenID,
	}
	if event.Amount != nil {
		view.Amount = event.Amount.String()
	}
	if processedBy != nil {
		view.ProcessedByRootTx = hex.EncodeToString(processedBy)
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleTokens serves GET /tokens.
func (h *Handlers) HandleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	entries, err := h.repo.TokenMaps(r.Context())
	if err != nil {
		h.logger.Printf("token map lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list token maps")
		return
	}
	views := make([]tokenMapView, len(entries))
	for i, e := range entries {
		views[i] = tokenMapView{
			RootAddress:   common.BytesToAddress(e.RootAddress[:]).Hex(),
			ChildIndex:    e.ChildIndex,
			ChildSubindex: e.ChildSubindex,
			EthName:       e.EthName,
			Decimals:      e.Decimals,
		}
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleWallet serves GET /wallet/{address}: the ROOT signer's current
// balance, so operators can monitor fee reserves without a separate
// Etherscan lookup.
func (h *Handlers) HandleWallet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	if h.root == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "no ROOT client is configured")
		return
	}
	addrHex := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/wallet/"), "/")
	if !common.IsHexAddress(addrHex) {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", "not a valid ROOT address")
		return
	}
	if common.HexToAddress(addrHex) != h.root.SignerAddress() {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not the relayer's signing address")
		return
	}
	bal, err := h.root.Balance(r.Context())
	if err != nil {
		h.logger.Printf("balance lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to fetch balance")
		return
	}
	writeJSON(w, http.StatusOK, walletView{Address: addrHex, BalanceWei: bal.String()})
}

// HandleExpectedMerkleRootUpdate serves GET /expectedMerkleRootUpdate.
func (h *Handlers) HandleExpectedMerkleRootUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	t, ok, err := h.repo.ExpectedNextMerkleUpdateTime(r.Context())
	if err != nil {
		h.logger.Printf("expected update time lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to read schedule")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no Merkle update has been scheduled yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next_update_at": t.Format("2006-01-02T15:04:05Z07:00")})
}

// HandleEthereumProof serves GET /ethereum/proof/{tx}/{event_id}: the
// Merkle inclusion proof for a CHILD withdraw event, reconstructed from
// the leaf set that produced the root covering it, for a caller
// submitting the corresponding withdraw transaction on ROOT.
func (h *Handlers) HandleEthereumProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/ethereum/proof/")
	parts := strings.SplitN(strings.TrimSuffix(rest, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", "expected /ethereum/proof/{tx}/{event_id}")
		return
	}
	txHash, err := parseHash(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TX_HASH", err.Error())
		return
	}
	eventIndex, err := parseUint(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_EVENT_ID", err.Error())
		return
	}

	root, ok, err := h.repo.RootForChildEvent(r.Context(), txHash, eventIndex)
	if err != nil {
		h.logger.Printf("root lookup error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to look up covering root")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no set Merkle root covers that withdrawal yet")
		return
	}

	proof, err := h.proofForWithdraw(r.Context(), root, eventIndex)
	if err != nil {
		h.logger.Printf("proof reconstruction error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to reconstruct proof")
		return
	}
	nodes := make([]proofNodeView, len(proof.Nodes))
	for i, n := range proof.Nodes {
		nodes[i] = proofNodeView{Hash: hex.EncodeToString(n.Hash[:]), Left: n.Left}
	}
	writeJSON(w, http.StatusOK, proofView{
		Root:      hex.EncodeToString(root[:]),
		LeafIndex: proof.LeafIndex,
		Nodes:     nodes,
	})
}

// proofForWithdraw rebuilds the Merkle tree that produced root and
// returns the inclusion proof for eventIndex, as served by the
// GET /ethereum/proof handler.
func (h *Handlers) proofForWithdraw(ctx context.Context, root [32]byte, eventIndex uint64) (merkletree.Proof, error) {
	rows, err := h.repo.LeavesForRoot(ctx, root)
	if err != nil {
		return merkletree.Proof{}, err
	}
	leaves := make([]merkletree.Leaf, len(rows))
	for i, row := range rows {
		leaves[i] = merkletree.Leaf{Key: row.EventIndex, Hash: row.LeafHash}
	}
	tree, err := merkletree.Build(leaves)
	if err != nil {
		return merkletree.Proof{}, err
	}
	return tree.ProofForKey(eventIndex)
}

func parseUint(s string) (uint64, error) {
	var v uint64
	if s == "" {
		return 0, fmt.Errorf("expected a numeric event id")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("expected a numeric event id")
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}

func parseHash(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return [32]byte{}, fmt.Errorf("expected a 32-byte hex transaction hash")
	}
	var h [32]byte
	copy(h[:], b)
	return h, nil
}

type depositView struct {
	OriginTxHash  string `json:"origin_tx_hash"`
	OriginEventID string `json:"origin_event_id"`
	Depositor     string `json:"depositor"`
	RootToken     string `json:"root_token"`
	Amount        string `json:"amount"`
	CCDReceiver   string `json:"ccd_receiver"`
}

type withdrawView struct {
	ChildTxHash       string `json:"child_tx_hash"`
	EventIndex        uint64 `json:"event_index"`
	Receiver          string `json:"receiver"`
	Amount            string `json:"amount"`
	TokenID           uint64 `json:"token_id"`
	ProcessedByRootTx string `json:"processed_by_root_tx,omitempty"`
}

type tokenMapView struct {
	RootAddress   string `json:"root_address"`
	ChildIndex    uint64 `json:"child_index"`
	ChildSubindex uint64 `json:"child_subindex"`
	EthName       string `json:"eth_name"`
	Decimals      uint8  `json:"decimals"`
}

type walletView struct {
	Address    string `json:"address"`
	BalanceWei string `json:"balance_wei"`
}

type proofNodeView struct {
	Hash string `json:"hash"`
	Left bool   `json:"left"`
}

type proofView struct {
	Root      string          `json:"root"`
	LeafIndex int             `json:"leaf_index"`
	Nodes     []proofNodeView `json:"nodes"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}
