package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tolelom/lottochain/lotto"
)

// TicketFile is what the CLI keeps between join and reveal.
type TicketFile struct {
	SessionID uint64 `json:"session_id"`
	Address   string `json:"address"`
	lotto.Ticket
}

// TicketPath returns the file a ticket for sessionID is kept in under dir.
func TicketPath(dir string, sessionID uint64) string {
	return filepath.Join(dir, fmt.Sprintf("ticket-%d.json", sessionID))
}

// SaveTicket writes t readable only by the owner. The secret is the only
// way to claim the deposit, so losing this file forfeits the entry.
func SaveTicket(path string, t *TicketFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadTicket reads a ticket saved by SaveTicket.
func LoadTicket(path string) (*TicketFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t TicketFile
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse ticket %s: %w", path, err)
	}
	if !lotto.Verify(t.Commitment, t.Secret, t.Message) {
		return nil, fmt.Errorf("ticket %s: commitment does not match secret", path)
	}
	return &t, nil
}
