package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bspoke/health/internal/platform/db"
)

// DeviceRegistry records which client devices may skip the OTP challenge.
// A device id belongs to at most one user at a time.
type DeviceRegistry struct {
	repo DeviceRepository
}

func NewDeviceRegistry(repo DeviceRepository) *DeviceRegistry {
	return &DeviceRegistry{repo: repo}
}

// Lookup returns the binding for deviceID, or nil when the device is unknown.
func (r *DeviceRegistry) Lookup(ctx context.Context, deviceID string) (*TrustedDevice, error) {
	d, err := r.repo.Get(ctx, deviceID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	return d, nil
}

// Upsert binds deviceID to userID, taking it over from any previous owner.
func (r *DeviceRegistry) Upsert(ctx context.Context, deviceID string, userID uuid.UUID) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil
	}
	if err := r.repo.Upsert(ctx, &TrustedDevice{DeviceID: deviceID, UserID: userID}); err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}
	return nil
}

func (r *DeviceRegistry) Remove(ctx context.Context, deviceID string) error {
	if err := r.repo.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("remove device: %w", err)
	}
	return nil
}
