package rpc

import (
	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/lotto"
)

// sessionParams selects a session and optionally a participant. A zero
// session id means the current session.
type sessionParams struct {
	ID      uint64  `json:"id"`
	Address string  `json:"address"`
	Index   *uint64 `json:"index"`
}

// resolve fills in the current id under the same read lock as the query.
func (p *sessionParams) resolve(st core.State) error {
	if p.ID != 0 {
		return nil
	}
	id, err := lotto.CurrentSessionID(st)
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (h *Handler) currentSessionID(req Request) Response {
	var id uint64
	err := h.exec.View(func(st core.State) error {
		var err error
		id, err = lotto.CurrentSessionID(st)
		return err
	})
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, id)
}

func (h *Handler) getSession(req Request) Response {
	var params sessionParams
	if r := decode(req, &params); r != nil {
		return *r
	}
	var view SessionView
	err := h.exec.View(func(st core.State) error {
		if err := params.resolve(st); err != nil {
			return err
		}
		sess, err := lotto.Session(st, params.ID)
		if err != nil {
			return err
		}
		cur, err := lotto.CurrentSessionID(st)
		if err != nil {
			return err
		}
		view = h.sessionView(sess, cur)
		return nil
	})
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, view)
}

func (h *Handler) sessionView(s *core.LottoSession, current uint64) SessionView {
	v := SessionView{
		ID:                 s.ID,
		Phase:              s.Phase.String(),
		PhaseCode:          uint8(s.Phase),
		CreatedAt:          s.CreatedAt,
		StartTime:          s.StartTime,
		EndedAt:            s.EndedAt,
		EntryFee:           s.EntryFee,
		ParticipantsLength: s.ParticipantsLength,
		AmountOfReveals:    s.AmountOfReveals,
		Current:            s.ID == current,
	}
	if d := h.exec.Lotto().Deadline(s); !d.IsZero() {
		v.Deadline = d.UnixNano()
	}
	return v
}

func (h *Handler) isParticipating(req Request) Response {
	var params sessionParams
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var ok bool
	err := h.exec.View(func(st core.State) error {
		if err := params.resolve(st); err != nil {
			return err
		}
		var err error
		ok, err = lotto.NewRegistry(st).IsParticipating(params.ID, params.Address)
		return err
	})
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, ok)
}

func (h *Handler) participantState(req Request) Response {
	var params sessionParams
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var p *core.LottoParticipant
	err := h.exec.View(func(st core.State) error {
		if err := params.resolve(st); err != nil {
			return err
		}
		var err error
		p, err = lotto.NewRegistry(st).State(params.ID, params.Address)
		return err
	})
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, p)
}

func (h *Handler) indexOfParticipant(req Request) Response {
	var params sessionParams
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var idx uint64
	err := h.exec.View(func(st core.State) error {
		if err := params.resolve(st); err != nil {
			return err
		}
		var err error
		idx, err = lotto.NewRegistry(st).IndexOf(params.ID, params.Address)
		return err
	})
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, idx)
}

func (h *Handler) participantAt(req Request) Response {
	var params sessionParams
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.Index == nil {
		return errResponse(req.ID, CodeInvalidParams, "index is required")
	}
	var p *core.LottoParticipant
	err := h.exec.View(func(st core.State) error {
		if err := params.resolve(st); err != nil {
			return err
		}
		var err error
		p, err = lotto.NewRegistry(st).At(params.ID, *params.Index)
		return err
	})
	if err != nil {
		return fail(req.ID, err)
	}
	return okResponse(req.ID, p)
}

func (h *Handler) sessionEnded(req Request) Response {
	var params struct {
		From uint64 `json:"from"`
		To   uint64 `json:"to"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.From == 0 {
		params.From = 1
	}
	var out []core.SessionEnded
	err := h.exec.View(func(st core.State) error {
		if params.To == 0 {
			cur, err := lotto.CurrentSessionID(st)
			if err != nil {
				return err
			}
			params.To = cur
		}
		var err error
		out, err = lotto.SessionsEnded(st, params.From, params.To)
		return err
	})
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if out == nil {
		out = []core.SessionEnded{}
	}
	return okResponse(req.ID, out)
}

func (h *Handler) sessionsByPlayer(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if r := decode(req, &params); r != nil {
		return *r
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	joined, err := h.indexer.GetSessionsByPlayer(params.Address)
	if err != nil {
		return fail(req.ID, err)
	}
	won, err := h.indexer.GetWinsByPlayer(params.Address)
	if err != nil {
		return fail(req.ID, err)
	}
	if joined == nil {
		joined = []uint64{}
	}
	if won == nil {
		won = []uint64{}
	}
	return okResponse(req.ID, map[string][]uint64{"joined": joined, "won": won})
}

func (h *Handler) params(req Request) Response {
	p := h.exec.Lotto().Params()
	admins := p.Admins
	if admins == nil {
		admins = []string{}
	}
	return okResponse(req.ID, ParamsView{
		EntryFee:     p.EntryFee,
		JoinWindow:   p.JoinWindow.String(),
		RevealWindow: p.RevealWindow.String(),
		Admins:       admins,
	})
}
