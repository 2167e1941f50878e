package identity

import (
	"tether/cmd/identity/ids"
	"tether/cmd/internal/fault"
)

// Device is the identity sent in every AUTH result of a run.
type Device struct {
	// DeviceID is a random UUID generated per run (sent as browser_id).
	DeviceID string
	// UserID is the externally supplied account id.
	UserID string
}

// NewDevice builds the run's identity for userID with a fresh device id.
func NewDevice(userID string) (Device, error) {
	userID = NormalizeUserID(userID)
	if userID == "" {
		return Device{}, fault.Configuration("identity.NewDevice", "missing user id")
	}
	return Device{
		DeviceID: ids.NewUUID(),
		UserID:   userID,
	}, nil
}
