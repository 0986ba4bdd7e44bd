// Package indexer maintains secondary indexes over committed blocks so
// clients can look up a player's sessions, wins and transaction outcomes
// without scanning full state.
//
// Events arrive while a block is still being built. The indexer stages
// their writes and applies them in one batch when the block commits, so a
// block that never lands leaves no index entries behind.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/events"
	"github.com/tolelom/lottochain/storage"
)

const (
	prefixPlayerSession = "idx:player:session:"
	prefixPlayerWin     = "idx:player:win:"
	prefixTxReceipt     = "idx:tx:"
)

// Receipt records what happened to a submitted transaction.
type Receipt struct {
	TxID        string `json:"tx_id"`
	Type        string `json:"type"`
	Status      string `json:"status"` // "applied" or "rejected"
	Error       string `json:"error,omitempty"`
	BlockHeight int64  `json:"block_height"`
}

const (
	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

type listAdd struct {
	key string
	id  uint64
}

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db   storage.DB
	subs []events.Subscription

	mu            sync.Mutex
	pendingHeight int64
	adds          []listAdd
	receipts      []Receipt
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	idx.subs = append(idx.subs,
		emitter.Subscribe(idx.onJoined, events.EventLottoJoined),
		emitter.Subscribe(idx.onEnded, events.EventLottoSessionEnded),
		emitter.Subscribe(idx.onTx, events.EventTxExecuted, events.EventTxRejected),
		emitter.Subscribe(idx.onCommit, events.EventBlockCommit),
		emitter.Subscribe(idx.onAbandon, events.EventBlockAbandoned),
	)
	return idx
}

// Close detaches the indexer from emitter.
func (idx *Indexer) Close(emitter *events.Emitter) {
	for _, s := range idx.subs {
		emitter.Unsubscribe(s)
	}
}

// GetSessionsByPlayer returns the ids of sessions a player joined, oldest
// first.
func (idx *Indexer) GetSessionsByPlayer(player string) ([]uint64, error) {
	return idx.getList(prefixPlayerSession + player)
}

// GetWinsByPlayer returns the ids of sessions a player won.
func (idx *Indexer) GetWinsByPlayer(player string) ([]uint64, error) {
	return idx.getList(prefixPlayerWin + player)
}

// GetReceipt returns the outcome of a transaction, or core.ErrNotFound if
// it has not been included or rejected by a committed block yet.
func (idx *Indexer) GetReceipt(txID string) (*Receipt, error) {
	data, err := idx.db.Get([]byte(prefixTxReceipt + txID))
	if err != nil {
		return nil, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return &r, nil
}

// ---- event handlers ----

// stage resets the buffer when events for a new height arrive, dropping
// writes from a block that was built but never committed. A block rebuilt
// at the same height is announced by EventBlockAbandoned instead.
func (idx *Indexer) stage(height int64) {
	if height != idx.pendingHeight {
		idx.pendingHeight = height
		idx.adds = nil
		idx.receipts = nil
	}
}

func (idx *Indexer) onJoined(ev events.Event) {
	user, _ := ev.Data["user"].(string)
	id, ok := ev.Data["session_id"].(uint64)
	if user == "" || !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.stage(ev.BlockHeight)
	idx.adds = append(idx.adds, listAdd{key: prefixPlayerSession + user, id: id})
}

func (idx *Indexer) onEnded(ev events.Event) {
	winner, _ := ev.Data["winner"].(string)
	id, ok := ev.Data["session_id"].(uint64)
	if winner == "" || !ok {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.stage(ev.BlockHeight)
	idx.adds = append(idx.adds, listAdd{key: prefixPlayerWin + winner, id: id})
}

func (idx *Indexer) onTx(ev events.Event) {
	r := Receipt{TxID: ev.TxID, Status: StatusApplied, BlockHeight: ev.BlockHeight}
	r.Type, _ = ev.Data["type"].(string)
	if ev.Type == events.EventTxRejected {
		r.Status = StatusRejected
		r.Error, _ = ev.Data["error"].(string)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.stage(ev.BlockHeight)
	idx.receipts = append(idx.receipts, r)
}

func (idx *Indexer) onCommit(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ev.BlockHeight != idx.pendingHeight {
		return
	}
	if err := idx.flush(); err != nil {
		log.Error().Str("component", "indexer").Int64("height", ev.BlockHeight).Err(err).Msg("flush failed")
	}
	idx.adds = nil
	idx.receipts = nil
}

func (idx *Indexer) onAbandon(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ev.BlockHeight != idx.pendingHeight {
		return
	}
	idx.adds = nil
	idx.receipts = nil
}

func (idx *Indexer) flush() error {
	if len(idx.adds) == 0 && len(idx.receipts) == 0 {
		return nil
	}
	lists := make(map[string][]uint64)
	batch := idx.db.NewBatch()
	for _, a := range idx.adds {
		ids, ok := lists[a.key]
		if !ok {
			var err error
			if ids, err = idx.getList(a.key); err != nil {
				return err
			}
		}
		lists[a.key] = append(ids, a.id)
	}
	for key, ids := range lists {
		data, err := json.Marshal(ids)
		if err != nil {
			return err
		}
		batch.Set([]byte(key), data)
	}
	for _, r := range idx.receipts {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		batch.Set([]byte(prefixTxReceipt+r.TxID), data)
	}
	return batch.Write()
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}
