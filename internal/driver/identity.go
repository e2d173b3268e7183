package driver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is the driver's locally remembered registration.
type Identity struct {
	Name     string `json:"name"`
	Plate    string `json:"plate"`
	Hospital string `json:"hospital,omitempty"`
}

// FallbackIdentity is used when nothing has been registered on this device.
var FallbackIdentity = Identity{Name: "Test Driver", Plate: "TEST123"}

func DefaultIdentityPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ambulance-dispatch", "driver.json"), nil
}

// LoadIdentity reads the identity file. A missing file yields the fallback
// identity with ok=false; missing fields are filled from the fallback.
func LoadIdentity(path string) (id Identity, ok bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return FallbackIdentity, false, nil
	}
	if err != nil {
		return FallbackIdentity, false, err
	}
	if err := json.Unmarshal(b, &id); err != nil {
		return FallbackIdentity, false, fmt.Errorf("parse identity %s: %w", path, err)
	}
	if id.Plate == "" {
		id.Plate = FallbackIdentity.Plate
	}
	if id.Name == "" {
		id.Name = FallbackIdentity.Name
	}
	return id, true, nil
}

func SaveIdentity(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
