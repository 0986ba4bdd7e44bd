package lotto

import (
	"errors"
	"fmt"

	"github.com/tolelom/lottochain/core"
)

// maxEndedRange caps a single SessionEnded range query.
const maxEndedRange = 1000

// CurrentSessionID returns the id that the next join will use.
func CurrentSessionID(st Store) (uint64, error) {
	return st.GetLottoCursor()
}

// Session returns session id. The current id reads as a NotStarted zero
// session until its first join; ids past the cursor are not found.
func Session(st Store, id uint64) (*core.LottoSession, error) {
	sess, err := st.GetLottoSession(id)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	cur, err := st.GetLottoCursor()
	if err != nil {
		return nil, err
	}
	if id == cur {
		return &core.LottoSession{ID: id, Phase: core.PhaseNotStarted}, nil
	}
	return nil, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
}

// SessionsEnded returns the outcomes recorded for sessions in [from, to],
// skipping ids that have not finished.
func SessionsEnded(st Store, from, to uint64) ([]core.SessionEnded, error) {
	if to < from {
		return nil, fmt.Errorf("bad range [%d, %d]", from, to)
	}
	if to-from >= maxEndedRange {
		to = from + maxEndedRange - 1
	}
	var out []core.SessionEnded
	for id := from; ; id++ {
		e, err := st.GetSessionEnded(id)
		switch {
		case err == nil:
			out = append(out, *e)
		case !errors.Is(err, core.ErrNotFound):
			return nil, err
		}
		if id == to {
			break
		}
	}
	return out, nil
}
