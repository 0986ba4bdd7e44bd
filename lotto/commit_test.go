package lotto_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/lottochain/crypto"
	"github.com/tolelom/lottochain/lotto"
)

func TestCommitMatchesKeccakOfConcatenation(t *testing.T) {
	got := lotto.Commit("abc", 42)
	assert.Equal(t, crypto.Keccak256Hex([]byte("abc42")), got)
	assert.True(t, strings.HasPrefix(got, "0x"))
	assert.Len(t, got, 66)
}

func TestVerify(t *testing.T) {
	c := lotto.Commit("secret", 7)
	assert.True(t, lotto.Verify(c, "secret", 7))
	assert.True(t, lotto.Verify(strings.ToUpper(c[2:]), "secret", 7))
	assert.False(t, lotto.Verify(c, "secret", 8))
	assert.False(t, lotto.Verify(c, "Secret", 7))
	assert.False(t, lotto.Verify("0xzz", "secret", 7))
	assert.False(t, lotto.Verify("", "secret", 7))
}

func TestNewTicket(t *testing.T) {
	a, err := lotto.NewTicket()
	require.NoError(t, err)
	b, err := lotto.NewTicket()
	require.NoError(t, err)

	assert.Len(t, a.Secret, 256)
	assert.Less(t, a.Message, uint64(1_000_000_000))
	assert.True(t, lotto.Verify(a.Commitment, a.Secret, a.Message))
	assert.NotEqual(t, a.Secret, b.Secret)
	for _, r := range a.Secret {
		assert.True(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}
}
