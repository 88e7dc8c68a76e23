package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxNameLength = 128

// GenerateID returns a new unique device identifier.
func GenerateID() string {
	return uuid.New().String()
}

// ValidateDevice checks that a device has valid required fields.
// Returns a wrapped sentinel error describing the first problem found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}

	if !validTypes[d.Type] {
		return fmt.Errorf("%w: %q", ErrInvalidDeviceType, d.Type)
	}

	if !validProtocols[d.Protocol] {
		return fmt.Errorf("%w: %q", ErrInvalidProtocol, d.Protocol)
	}

	return nil
}
