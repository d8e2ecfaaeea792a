package store

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// secretsFile is the on-disk TOML layout for device provisioning. Cars need
// every field; factory-paired fobs need only the credential fields.
type secretsFile struct {
	CarID          string   `toml:"car_id"`
	Password       string   `toml:"password"`
	PairPIN        string   `toml:"pair_pin"`
	UnlockSecret   string   `toml:"unlock_secret"`
	FeatureSecrets []string `toml:"feature_secrets"`
}

func setFixed(dst []byte, value, name string) error {
	if len(value) != len(dst) {
		return fmt.Errorf("store: %s must be exactly %d bytes, got %d", name, len(dst), len(value))
	}
	copy(dst, value)
	return nil
}

func (f *secretsFile) pairingSecret() (*PairingSecret, error) {
	var secret PairingSecret
	if err := setFixed(secret.CarID[:], f.CarID, "car_id"); err != nil {
		return nil, err
	}
	if err := setFixed(secret.Password[:], f.Password, "password"); err != nil {
		return nil, err
	}
	if len(f.PairPIN) != PINLength {
		return nil, fmt.Errorf("store: pair_pin must be exactly %d digits, got %d characters", PINLength, len(f.PairPIN))
	}
	for _, c := range f.PairPIN {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("store: pair_pin must contain only digits")
		}
	}
	copy(secret.PIN[:], f.PairPIN)
	return &secret, nil
}

// LoadCarSecrets reads a car's build-time credential block from a TOML file.
func LoadCarSecrets(path string) (*CarSecrets, error) {
	var file secretsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("store: read secrets %s: %w", path, err)
	}
	var secrets CarSecrets
	if err := setFixed(secrets.CarID[:], file.CarID, "car_id"); err != nil {
		return nil, err
	}
	if err := setFixed(secrets.Password[:], file.Password, "password"); err != nil {
		return nil, err
	}
	if err := setFixed(secrets.UnlockSecret[:], file.UnlockSecret, "unlock_secret"); err != nil {
		return nil, err
	}
	if len(file.FeatureSecrets) != NumFeatures {
		return nil, fmt.Errorf("store: feature_secrets must list exactly %d entries, got %d", NumFeatures, len(file.FeatureSecrets))
	}
	for i, s := range file.FeatureSecrets {
		if err := setFixed(secrets.FeatureSecrets[i][:], s, fmt.Sprintf("feature_secrets[%d]", i)); err != nil {
			return nil, err
		}
	}
	return &secrets, nil
}

// LoadFactorySecret reads the credential fields a factory-paired fob is
// provisioned with. The same TOML file used for the car works here; the
// secret fields a fob does not hold are ignored.
func LoadFactorySecret(path string) (*PairingSecret, error) {
	var file secretsFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("store: read secrets %s: %w", path, err)
	}
	return file.pairingSecret()
}
