package lotto

import "github.com/tolelom/lottochain/core"

// SelectWinner picks the winner among participants that revealed.
//
// With R the revealed participants in join order, the winner is
// R[(Σ message) mod |R|]. The result depends only on committed values and
// the revealed set, never on reveal order.
//
// It returns the index into participants and false when nobody revealed.
func SelectWinner(participants []core.LottoParticipant) (int, bool) {
	revealed := make([]int, 0, len(participants))
	for i, p := range participants {
		if p.HasRevealed {
			revealed = append(revealed, i)
		}
	}
	if len(revealed) == 0 {
		return -1, false
	}
	n := uint64(len(revealed))
	var acc uint64
	for _, i := range revealed {
		acc = (acc + participants[i].Message%n) % n
	}
	return revealed[acc], true
}
