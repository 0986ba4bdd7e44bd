package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount     = registerPrefix("acct:")
	prefixLottoCursor = registerPrefix("lotto:cursor")
	prefixLottoSess   = registerPrefix("lotto:sess:")
	prefixLottoPart   = registerPrefix("lotto:part:")
	prefixLottoIndex  = registerPrefix("lotto:idx:")
	prefixEscrow      = registerPrefix("escrow:")
	prefixEnded       = registerPrefix("lotto:ended:")
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation. All methods
// are safe for concurrent use; multi-key consistency is the caller's job
// (see vm.Executor.View).
type StateDB struct {
	db DB

	mu        sync.RWMutex
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

// idKey renders ids zero-padded so prefix iteration is numeric order.
func idKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

func (s *StateDB) get(key string) ([]byte, error) {
	s.mu.RLock()
	if s.deleted[key] {
		s.mu.RUnlock()
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Lottery ----

func (s *StateDB) GetLottoCursor() (uint64, error) {
	data, err := s.get(prefixLottoCursor)
	if errors.Is(err, core.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt lottery cursor (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *StateDB) SetLottoCursor(id uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	s.set(prefixLottoCursor, buf[:])
	return nil
}

func (s *StateDB) GetLottoSession(id uint64) (*core.LottoSession, error) {
	var sess core.LottoSession
	if err := s.getJSON(prefixLottoSess+idKey(id), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *StateDB) SetLottoSession(sess *core.LottoSession) error {
	return s.setJSON(prefixLottoSess+idKey(sess.ID), sess)
}

func participantKey(sessionID, index uint64) string {
	return prefixLottoPart + idKey(sessionID) + ":" + idKey(index)
}

func (s *StateDB) GetLottoParticipant(sessionID, index uint64) (*core.LottoParticipant, error) {
	var p core.LottoParticipant
	if err := s.getJSON(participantKey(sessionID, index), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetLottoParticipant(sessionID, index uint64, p *core.LottoParticipant) error {
	return s.setJSON(participantKey(sessionID, index), p)
}

func indexKey(sessionID uint64, address string) string {
	return prefixLottoIndex + idKey(sessionID) + ":" + address
}

func (s *StateDB) GetLottoIndex(sessionID uint64, address string) (uint64, error) {
	data, err := s.get(indexKey(sessionID, address))
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt participant index (%d bytes)", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *StateDB) SetLottoIndex(sessionID uint64, address string, index uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	s.set(indexKey(sessionID, address), buf[:])
	return nil
}

func (s *StateDB) GetEscrow(sessionID uint64) (*core.Escrow, error) {
	var e core.Escrow
	err := s.getJSON(prefixEscrow+idKey(sessionID), &e)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Escrow{SessionID: sessionID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *StateDB) SetEscrow(e *core.Escrow) error {
	return s.setJSON(prefixEscrow+idKey(e.SessionID), e)
}

func (s *StateDB) GetSessionEnded(sessionID uint64) (*core.SessionEnded, error) {
	var e core.SessionEnded
	if err := s.getJSON(prefixEnded+idKey(sessionID), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *StateDB) SetSessionEnded(e *core.SessionEnded) error {
	return s.setJSON(prefixEnded+idKey(e.SessionID), e)
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes this block).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
