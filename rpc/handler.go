package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/indexer"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/vm"
)

// Preflighter dry-runs a transaction before it is queued.
type Preflighter interface {
	Preflight(tx *core.Transaction) error
}

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc        *core.Blockchain
	mempool   *core.Mempool
	exec      *vm.Executor
	indexer   *indexer.Indexer
	preflight Preflighter
	chainID   string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler. pf may be nil to queue transactions
// unchecked.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, exec *vm.Executor, idx *indexer.Indexer, pf Preflighter, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, exec: exec, indexer: idx, preflight: pf, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getChainId":
		return okResponse(req.ID, h.chainID)
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())
	case "getBlock":
		return h.getBlock(req)
	case "getBalance":
		return h.getBalance(req)
	case "sendTx":
		return h.sendTx(req)
	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())
	case "getTxReceipt":
		return h.getTxReceipt(req)

	case "lotto_currentSessionId":
		return h.currentSessionID(req)
	case "lotto_getSession":
		return h.getSession(req)
	case "lotto_isParticipating":
		return h.isParticipating(req)
	case "lotto_getParticipantState":
		return h.participantState(req)
	case "lotto_indexOfParticipant":
		return h.indexOfParticipant(req)
	case "lotto_getParticipant":
		return h.participantAt(req)
	case "lotto_getSessionEnded":
		return h.sessionEnded(req)
	case "lotto_getSessionsByPlayer":
		return h.sessionsByPlayer(req)
	case "lotto_params":
		return h.params(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// fail maps err onto a JSON-RPC error code.
func fail(id any, err error) Response {
	switch {
	case lotto.IsRejection(err):
		return errResponse(id, CodeLottoRejected, err.Error())
	case errors.Is(err, core.ErrNotFound):
		return errResponse(id, CodeNotFound, err.Error())
	case errors.Is(err, vm.ErrUnknownTxType):
		return errResponse(id, CodeInvalidParams, err.Error())
	default:
		return errResponse(id, CodeInternalError, err.Error())
	}
}

func decode(req Request, v any) *Response {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		r := errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
		return &r
	}
	return nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return fail(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var acc *core.Account
	err := h.exec.View(func(st core.State) error {
		var err error
		acc, err = st.GetAccount(params.Address)
		return err
	})
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := tx.Verify(); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if h.preflight != nil {
		if err := h.preflight.Preflight(&tx); err != nil {
			return fail(req.ID, err)
		}
	}
	if err := h.mempool.Add(&tx); err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getTxReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	rc, err := h.indexer.GetReceipt(params.TxID)
	if errors.Is(err, core.ErrNotFound) {
		if _, pending := h.mempool.Get(params.TxID); pending {
			return okResponse(req.ID, indexer.Receipt{TxID: params.TxID, Status: "pending"})
		}
	}
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, rc)
}
