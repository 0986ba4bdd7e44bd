package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/core"
	"github.com/tolelom/lottochain/lotto"
	"github.com/tolelom/lottochain/rpc"
)

func TestCommitCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"commit", "--secret", "hunter2", "--message", "42"})
	require.NoError(t, root.Execute())

	var got lotto.Ticket
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, lotto.Commit("hunter2", 42), got.Commitment)
}

func TestCommitCommandDrawsTicket(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"commit"})
	require.NoError(t, root.Execute())

	var got lotto.Ticket
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.NotEmpty(t, got.Secret)
	assert.True(t, lotto.Verify(got.Commitment, got.Secret, got.Message))
}

func TestRenderSession(t *testing.T) {
	tests := []struct {
		name  string
		view  rpc.SessionView
		wants string
	}{
		{"not started", rpc.SessionView{PhaseCode: uint8(core.PhaseNotStarted), EntryFee: 5}, "waiting for the first player; entry fee 5"},
		{"join", rpc.SessionView{PhaseCode: uint8(core.PhaseJoin), EntryFee: 5, ParticipantsLength: 2}, "2 joined, pool 10"},
		{"reveal", rpc.SessionView{PhaseCode: uint8(core.PhaseReveal), ParticipantsLength: 3, AmountOfReveals: 1}, "awaiting 2 of 3 reveals"},
		{"finished", rpc.SessionView{PhaseCode: uint8(core.PhaseFinished), ParticipantsLength: 3, AmountOfReveals: 3}, "3 joined, 3 revealed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			renderSession(&out, &tt.view)
			assert.Contains(t, out.String(), tt.wants)
		})
	}
}

func TestShortAddr(t *testing.T) {
	assert.Equal(t, "nobody", shortAddr("nobody"))
}
