package lotto

import (
	"errors"
	"fmt"

	"github.com/tolelom/lottochain/core"
)

// Registry answers participant questions for any session, current or past.
type Registry struct {
	st Store
}

// NewRegistry returns a Registry over st.
func NewRegistry(st Store) *Registry {
	return &Registry{st: st}
}

// IsParticipating reports whether address joined session id.
func (r *Registry) IsParticipating(id uint64, address string) (bool, error) {
	_, err := r.st.GetLottoIndex(id, address)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// IndexOf returns the 0-based join position of address in session id.
func (r *Registry) IndexOf(id uint64, address string) (uint64, error) {
	idx, err := r.st.GetLottoIndex(id, address)
	if errors.Is(err, core.ErrNotFound) {
		return 0, ErrNotParticipating
	}
	return idx, err
}

// At returns the participant at a join index.
func (r *Registry) At(id, index uint64) (*core.LottoParticipant, error) {
	p, err := r.st.GetLottoParticipant(id, index)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("session %d index %d: %w", id, index, ErrNotParticipating)
	}
	return p, err
}

// State returns address's record in session id, or an empty record when
// the address never joined. It never fails with ErrNotParticipating.
func (r *Registry) State(id uint64, address string) (*core.LottoParticipant, error) {
	idx, err := r.st.GetLottoIndex(id, address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.LottoParticipant{}, nil
	}
	if err != nil {
		return nil, err
	}
	return r.st.GetLottoParticipant(id, idx)
}

// All returns every participant of session id in join order.
func (r *Registry) All(sess *core.LottoSession) ([]core.LottoParticipant, error) {
	out := make([]core.LottoParticipant, 0, sess.ParticipantsLength)
	for i := uint64(0); i < sess.ParticipantsLength; i++ {
		p, err := r.st.GetLottoParticipant(sess.ID, i)
		if err != nil {
			return nil, fmt.Errorf("session %d participant %d: %w", sess.ID, i, err)
		}
		out = append(out, *p)
	}
	return out, nil
}

// admit appends address to sess and returns its index. The caller has
// already checked for duplicates and persists sess afterwards.
func (r *Registry) admit(sess *core.LottoSession, address, commitment string) (uint64, error) {
	idx := sess.ParticipantsLength
	p := &core.LottoParticipant{User: address, Commitment: commitment}
	if err := r.st.SetLottoParticipant(sess.ID, idx, p); err != nil {
		return 0, err
	}
	if err := r.st.SetLottoIndex(sess.ID, address, idx); err != nil {
		return 0, err
	}
	sess.ParticipantsLength++
	return idx, nil
}
