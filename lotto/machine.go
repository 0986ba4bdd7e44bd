package lotto

import (
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/lottochain/core"
)

// JoinResult describes an accepted join.
type JoinResult struct {
	SessionID uint64
	Index     uint64
	// RevealStarted is set when this join found the join window expired and
	// moved the session into Reveal before admitting the caller.
	RevealStarted bool
	// Ended is non-nil when this join found the previous session's reveal
	// window lapsed, closed it, and opened the session it joined.
	Ended   *core.SessionEnded
	Session core.LottoSession
}

// OpenResult describes an accepted reveal.
type OpenResult struct {
	SessionID     uint64
	RevealStarted bool
	// Ended is non-nil when this reveal finished the session.
	Ended   *core.SessionEnded
	Session core.LottoSession
}

// ForceResult describes a forced phase change.
type ForceResult struct {
	SessionID uint64
	From, To  core.LottoPhase
	Ended     *core.SessionEnded
	Session   core.LottoSession
}

// Machine drives sessions through NotStarted → Join → Reveal → Finished.
//
// Every entry point first applies the time-based transition (an expired
// join window moves the session to Reveal; a join finding an expired
// reveal window closes the session), then handles the call against the
// resulting phase. Rejections are detected before the first write, so
// a returned error means nothing was persisted. Callers must serialize
// calls against one Store.
type Machine struct {
	params Params
}

// NewMachine returns a Machine running with p.
func NewMachine(p Params) (*Machine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Machine{params: p}, nil
}

// Params returns the machine's parameters.
func (m *Machine) Params() Params { return m.params }

// Current loads the session that new joins go to. A session that has not
// been opened yet is returned in NotStarted with no participants.
func (m *Machine) Current(st Store) (*core.LottoSession, error) {
	id, err := st.GetLottoCursor()
	if err != nil {
		return nil, fmt.Errorf("lottery cursor: %w", err)
	}
	sess, err := st.GetLottoSession(id)
	if errors.Is(err, core.ErrNotFound) {
		return &core.LottoSession{ID: id, Phase: core.PhaseNotStarted}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session %d: %w", id, err)
	}
	return sess, nil
}

// expireJoin moves a Join session whose window elapsed into Reveal, in
// memory only. It reports whether it did.
func (m *Machine) expireJoin(sess *core.LottoSession, now int64) bool {
	if sess.Phase != core.PhaseJoin {
		return false
	}
	if now <= sess.CreatedAt+int64(m.params.JoinWindow) {
		return false
	}
	m.startReveal(sess, now)
	return true
}

func (m *Machine) startReveal(sess *core.LottoSession, now int64) {
	sess.Phase = core.PhaseReveal
	sess.StartTime = now
}

func (m *Machine) revealExpired(sess *core.LottoSession, now int64) bool {
	return now > sess.StartTime+int64(m.params.RevealWindow)
}

func (m *Machine) open(sess *core.LottoSession, now int64) {
	sess.Phase = core.PhaseJoin
	sess.CreatedAt = now
	sess.EntryFee = m.params.EntryFee
}

// Join admits caller into the current session with commitment, taking
// deposit into escrow. The first join of a session opens it.
func (m *Machine) Join(st Store, caller, commitment string, deposit uint64, now int64) (*JoinResult, error) {
	if !validCommitment(commitment) {
		return nil, ErrInvalidCommitment
	}
	sess, err := m.Current(st)
	if err != nil {
		return nil, err
	}
	tripped := m.expireJoin(sess, now)

	var ended *core.SessionEnded
	switch {
	case sess.Phase == core.PhaseNotStarted:
		m.open(sess, now)
	case sess.Phase == core.PhaseJoin, tripped:
	case sess.Phase == core.PhaseReveal && m.revealExpired(sess, now):
		// Closing the lapsed session is the first write, so everything that
		// can reject the join into its successor is checked before it.
		if deposit != m.params.EntryFee {
			return nil, fmt.Errorf("%w: sent %d want %d", ErrInvalidDeposit, deposit, m.params.EntryFee)
		}
		if err := canPay(st, caller, deposit); err != nil {
			return nil, err
		}
		if ended, err = m.finish(st, sess, now); err != nil {
			return nil, err
		}
		sess = &core.LottoSession{ID: sess.ID + 1}
		m.open(sess, now)
	default:
		return nil, fmt.Errorf("session %d is %s: %w", sess.ID, sess.Phase, ErrNotJoinPhase)
	}
	if deposit != sess.EntryFee {
		return nil, fmt.Errorf("%w: sent %d want %d", ErrInvalidDeposit, deposit, sess.EntryFee)
	}
	reg := NewRegistry(st)
	dup, err := reg.IsParticipating(sess.ID, caller)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, ErrAlreadyParticipating
	}

	// Writes to sess start here; the deposit goes first because it is the
	// only step that can still reject (insufficient balance).
	if err := NewEscrow(st).Deposit(sess.ID, caller, deposit); err != nil {
		return nil, err
	}
	idx, err := reg.admit(sess, caller, commitment)
	if err != nil {
		return nil, err
	}
	if err := st.SetLottoSession(sess); err != nil {
		return nil, err
	}
	return &JoinResult{SessionID: sess.ID, Index: idx, RevealStarted: tripped, Ended: ended, Session: *sess}, nil
}

func canPay(st Store, addr string, amount uint64) error {
	acc, err := st.GetAccount(addr)
	if err != nil {
		return fmt.Errorf("account %s: %w", addr, err)
	}
	if acc.Balance < amount {
		return fmt.Errorf("%w: have %d need %d", ErrInsufficientFunds, acc.Balance, amount)
	}
	return nil
}

// OpenCommitment reveals caller's (secret, message). A reveal that
// completes the set, or that lands after the reveal window, finishes the
// session and pays out.
func (m *Machine) OpenCommitment(st Store, caller, secret string, message uint64, now int64) (*OpenResult, error) {
	sess, err := m.Current(st)
	if err != nil {
		return nil, err
	}
	tripped := m.expireJoin(sess, now)
	if sess.Phase != core.PhaseReveal {
		return nil, fmt.Errorf("session %d is %s: %w", sess.ID, sess.Phase, ErrNotRevealPhase)
	}
	reg := NewRegistry(st)
	idx, err := reg.IndexOf(sess.ID, caller)
	if err != nil {
		return nil, err
	}
	p, err := st.GetLottoParticipant(sess.ID, idx)
	if err != nil {
		return nil, fmt.Errorf("session %d participant %d: %w", sess.ID, idx, err)
	}
	if p.HasRevealed {
		return nil, ErrAlreadyRevealed
	}
	if !Verify(p.Commitment, secret, message) {
		return nil, ErrInvalidOpening
	}

	p.HasRevealed = true
	p.Message = message
	if err := st.SetLottoParticipant(sess.ID, idx, p); err != nil {
		return nil, err
	}
	sess.AmountOfReveals++

	res := &OpenResult{SessionID: sess.ID, RevealStarted: tripped}
	if sess.AmountOfReveals == sess.ParticipantsLength || m.revealExpired(sess, now) {
		res.Ended, err = m.finish(st, sess, now)
		if err != nil {
			return nil, err
		}
	} else if err := st.SetLottoSession(sess); err != nil {
		return nil, err
	}
	res.Session = *sess
	return res, nil
}

// ForceNextPhase advances the current session by one phase. If the join
// window had already expired, that implicit Join → Reveal step is the
// advance. Reveal → Finished pays out like a natural finish.
func (m *Machine) ForceNextPhase(st Store, caller string, now int64) (*ForceResult, error) {
	if !m.params.mayForce(caller) {
		return nil, ErrUnauthorized
	}
	sess, err := m.Current(st)
	if err != nil {
		return nil, err
	}
	res := &ForceResult{SessionID: sess.ID, From: sess.Phase}
	if m.expireJoin(sess, now) {
		// already advanced
	} else {
		switch sess.Phase {
		case core.PhaseNotStarted:
			m.open(sess, now)
		case core.PhaseJoin:
			m.startReveal(sess, now)
		case core.PhaseReveal:
			res.Ended, err = m.finish(st, sess, now)
			if err != nil {
				return nil, err
			}
		}
	}
	if sess.Phase != core.PhaseFinished {
		if err := st.SetLottoSession(sess); err != nil {
			return nil, err
		}
	}
	res.To = sess.Phase
	res.Session = *sess
	return res, nil
}

// finish moves sess to Finished, pays the pool, records the outcome and
// points the cursor at the next session. It runs once per session.
func (m *Machine) finish(st Store, sess *core.LottoSession, now int64) (*core.SessionEnded, error) {
	participants, err := NewRegistry(st).All(sess)
	if err != nil {
		return nil, err
	}
	sess.Phase = core.PhaseFinished
	sess.EndedAt = now

	ended := &core.SessionEnded{SessionID: sess.ID, EndedAt: now}
	esc := NewEscrow(st)
	if w, ok := SelectWinner(participants); ok {
		ended.Winner = participants[w].User
		ended.Reward, err = esc.Release(sess.ID, ended.Winner)
		if err != nil {
			return nil, err
		}
	} else {
		payees := make([]string, len(participants))
		for i, p := range participants {
			payees[i] = p.User
		}
		if err := esc.Refund(sess.ID, payees, sess.EntryFee); err != nil {
			return nil, err
		}
		ended.Refunded = len(payees) > 0
	}

	if err := st.SetLottoSession(sess); err != nil {
		return nil, err
	}
	if err := st.SetSessionEnded(ended); err != nil {
		return nil, err
	}
	if err := st.SetLottoCursor(sess.ID + 1); err != nil {
		return nil, err
	}
	return ended, nil
}

// Deadline returns when the current phase of sess times out, or zero when
// the phase has no deadline.
func (m *Machine) Deadline(sess *core.LottoSession) time.Time {
	switch sess.Phase {
	case core.PhaseJoin:
		return time.Unix(0, sess.CreatedAt+int64(m.params.JoinWindow))
	case core.PhaseReveal:
		return time.Unix(0, sess.StartTime+int64(m.params.RevealWindow))
	default:
		return time.Time{}
	}
}
