package lotto

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"

	"github.com/tolelom/lottochain/crypto"
)

const (
	secretLength  = 256
	secretCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxMessage    = 1_000_000_000
)

// Commit returns keccak256(secret ‖ decimal(message)) as 0x-prefixed hex.
// It matches web3.utils.keccak256(secret + message) byte for byte.
func Commit(secret string, message uint64) string {
	return crypto.Keccak256Hex([]byte(secret), []byte(strconv.FormatUint(message, 10)))
}

// Verify reports whether (secret, message) opens commitment.
func Verify(commitment, secret string, message uint64) bool {
	want, err := crypto.DecodeHash(commitment)
	if err != nil || len(want) != 32 {
		return false
	}
	got := crypto.Keccak256([]byte(secret), []byte(strconv.FormatUint(message, 10)))
	return subtle.ConstantTimeCompare(want, got) == 1
}

func validCommitment(commitment string) bool {
	b, err := crypto.DecodeHash(commitment)
	return err == nil && len(b) == 32
}

// Ticket is the client-side half of a commitment. Keep it private until the
// reveal phase.
type Ticket struct {
	Secret     string `json:"secret"`
	Message    uint64 `json:"message"`
	Commitment string `json:"commitment"`
}

// NewTicket draws a random 256-character alphanumeric secret and a message
// in [0, 1e9) and commits to them.
func NewTicket() (*Ticket, error) {
	secret := make([]byte, secretLength)
	limit := big.NewInt(int64(len(secretCharset)))
	for i := range secret {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, fmt.Errorf("draw secret: %w", err)
		}
		secret[i] = secretCharset[n.Int64()]
	}
	m, err := rand.Int(rand.Reader, big.NewInt(maxMessage))
	if err != nil {
		return nil, fmt.Errorf("draw message: %w", err)
	}
	t := &Ticket{Secret: string(secret), Message: m.Uint64()}
	t.Commitment = Commit(t.Secret, t.Message)
	return t, nil
}
