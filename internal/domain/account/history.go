package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bspoke/health/internal/platform/auth"
)

// PasswordHistory is the ledger of superseded password hashes used to stop
// a user cycling back to a recent password.
type PasswordHistory struct {
	repo   HistoryRepository
	hasher auth.PasswordHasher
	depth  int
	now    func() time.Time
}

func NewPasswordHistory(repo HistoryRepository, hasher auth.PasswordHasher) *PasswordHistory {
	return &PasswordHistory{repo: repo, hasher: hasher, depth: HistoryDepth, now: time.Now}
}

// WouldReuse reports whether candidate matches any of the newest entries.
func (h *PasswordHistory) WouldReuse(ctx context.Context, userID uuid.UUID, candidate string) (bool, error) {
	entries, err := h.repo.Recent(ctx, userID, h.depth)
	if err != nil {
		return false, fmt.Errorf("load password history: %w", err)
	}
	for _, e := range entries {
		match, err := h.hasher.Compare(e.PasswordHash, candidate)
		if err != nil {
			return false, fmt.Errorf("compare password history: %w", err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// Record appends hash to the user's ledger.
func (h *PasswordHistory) Record(ctx context.Context, userID uuid.UUID, hash string) error {
	e := &HistoryEntry{UserID: userID, PasswordHash: hash, CreatedAt: h.now()}
	if err := h.repo.Append(ctx, e); err != nil {
		return fmt.Errorf("append password history: %w", err)
	}
	return nil
}
