// Package store defines the persistent records owned by the protocol core
// and the key-value storage abstraction they live behind.
//
// Records use a fixed binary layout so that a stored image is byte-for-byte
// compatible with an erase-then-program flash sector: unwritten storage reads
// back as 0xFF, and the record types normalize those erased markers on load.
package store

import (
	"errors"
	"fmt"
)

const (
	// IDLength is the byte length of a car identifier.
	IDLength = 8
	// PasswordLength is the byte length of an unlock password.
	PasswordLength = 8
	// PINLength is the number of digits in a pairing PIN.
	PINLength = 6
	// pinFieldLength is the storage footprint of a PIN; the 6 digits sit
	// left-aligned in an 8-byte field.
	pinFieldLength = 8

	// NumFeatures is the maximum number of optional features a fob can hold.
	NumFeatures = 3

	// SecretLength is the byte length of an unlock or feature secret.
	SecretLength = 64
)

// Serialized record sizes.
const (
	PairingSecretSize   = IDLength + PasswordLength + pinFieldLength
	FeatureManifestSize = IDLength + 1 + NumFeatures
	FobStateSize        = 1 + PairingSecretSize + FeatureManifestSize
)

// Erased-flash markers.
const (
	flashPaired   byte = 0x00
	flashUnpaired byte = 0xFF
	erasedByte    byte = 0xFF
)

var (
	// ErrBadRecordSize indicates a buffer does not match the fixed record layout.
	ErrBadRecordSize = errors.New("store: buffer size does not match record layout")

	// ErrManifestFull indicates an append to a manifest that already holds
	// NumFeatures entries.
	ErrManifestFull = errors.New("store: feature manifest full")

	// ErrInvalidFeature indicates a feature identifier outside [1, NumFeatures].
	ErrInvalidFeature = errors.New("store: feature identifier out of range")

	// ErrDuplicateFeature indicates a feature identifier already present in a
	// manifest.
	ErrDuplicateFeature = errors.New("store: feature already in manifest")
)

// PairingSecret is the credential block a car is manufactured with and a fob
// acquires by pairing: the car's identity, its unlock password, and the PIN
// that gates onward pairing.
type PairingSecret struct {
	CarID    [IDLength]byte
	Password [PasswordLength]byte
	PIN      [pinFieldLength]byte
}

// AppendBinary appends the serialized secret to buf.
func (s *PairingSecret) AppendBinary(buf []byte) []byte {
	buf = append(buf, s.CarID[:]...)
	buf = append(buf, s.Password[:]...)
	buf = append(buf, s.PIN[:]...)
	return buf
}

// MarshalBinary serializes the secret into its fixed 24-byte layout.
func (s *PairingSecret) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, PairingSecretSize)), nil
}

// UnmarshalBinary parses a fixed 24-byte pairing secret.
func (s *PairingSecret) UnmarshalBinary(data []byte) error {
	if len(data) != PairingSecretSize {
		return fmt.Errorf("%w: pairing secret needs %d bytes, got %d", ErrBadRecordSize, PairingSecretSize, len(data))
	}
	copy(s.CarID[:], data[:IDLength])
	copy(s.Password[:], data[IDLength:IDLength+PasswordLength])
	copy(s.PIN[:], data[IDLength+PasswordLength:])
	return nil
}

// PINEqual reports whether pin matches the stored PIN digits. Only the first
// PINLength bytes of the stored field are significant.
func (s *PairingSecret) PINEqual(pin []byte) bool {
	if len(pin) != PINLength {
		return false
	}
	// Plain byte comparison, not constant time. The reference protocol makes
	// no timing guarantees and equality checks here follow it.
	for i := 0; i < PINLength; i++ {
		if pin[i] != s.PIN[i] {
			return false
		}
	}
	return true
}

// FeatureManifest is the ordered list of optional features enabled on a fob,
// bound to the car the fob is paired with.
type FeatureManifest struct {
	CarID     [IDLength]byte
	NumActive uint8
	Features  [NumFeatures]byte
}

// AppendBinary appends the serialized manifest to buf.
func (m *FeatureManifest) AppendBinary(buf []byte) []byte {
	buf = append(buf, m.CarID[:]...)
	buf = append(buf, m.NumActive)
	buf = append(buf, m.Features[:]...)
	return buf
}

// MarshalBinary serializes the manifest into its fixed 12-byte layout.
func (m *FeatureManifest) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(make([]byte, 0, FeatureManifestSize)), nil
}

// UnmarshalBinary parses a fixed 12-byte feature manifest.
func (m *FeatureManifest) UnmarshalBinary(data []byte) error {
	if len(data) != FeatureManifestSize {
		return fmt.Errorf("%w: feature manifest needs %d bytes, got %d", ErrBadRecordSize, FeatureManifestSize, len(data))
	}
	copy(m.CarID[:], data[:IDLength])
	m.NumActive = data[IDLength]
	copy(m.Features[:], data[IDLength+1:])
	return nil
}

// Active returns the enabled feature identifiers in manifest order.
func (m *FeatureManifest) Active() []byte {
	n := int(m.NumActive)
	if n > NumFeatures {
		n = NumFeatures
	}
	return m.Features[:n]
}

// Contains reports whether feature is already in the manifest.
func (m *FeatureManifest) Contains(feature byte) bool {
	for _, f := range m.Active() {
		if f == feature {
			return true
		}
	}
	return false
}

// Append adds feature to the end of the manifest. It enforces capacity,
// range, and uniqueness; on any failure the manifest is untouched.
func (m *FeatureManifest) Append(feature byte) error {
	if int(m.NumActive) >= NumFeatures {
		return ErrManifestFull
	}
	if feature < 1 || feature > NumFeatures {
		return ErrInvalidFeature
	}
	if m.Contains(feature) {
		return ErrDuplicateFeature
	}
	m.Features[m.NumActive] = feature
	m.NumActive++
	return nil
}

// FobState is the complete persistent record of one fob.
type FobState struct {
	Paired      bool
	PairInfo    PairingSecret
	FeatureInfo FeatureManifest
}

// MarshalBinary serializes the state into its fixed 37-byte flash image.
func (f *FobState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, FobStateSize)
	if f.Paired {
		buf = append(buf, flashPaired)
	} else {
		buf = append(buf, flashUnpaired)
	}
	buf = f.PairInfo.AppendBinary(buf)
	buf = f.FeatureInfo.AppendBinary(buf)
	return buf, nil
}

// UnmarshalBinary parses a fixed 37-byte flash image. Any paired marker other
// than the programmed value reads as unpaired, so an erased sector comes back
// as a fresh unpaired fob.
func (f *FobState) UnmarshalBinary(data []byte) error {
	if len(data) != FobStateSize {
		return fmt.Errorf("%w: fob state needs %d bytes, got %d", ErrBadRecordSize, FobStateSize, len(data))
	}
	f.Paired = data[0] == flashPaired
	if err := f.PairInfo.UnmarshalBinary(data[1 : 1+PairingSecretSize]); err != nil {
		return err
	}
	return f.FeatureInfo.UnmarshalBinary(data[1+PairingSecretSize:])
}

// Normalize clears erased-flash markers left by storage that has never been
// programmed. It returns true if the state changed and needs to be persisted.
func (f *FobState) Normalize() bool {
	if f.FeatureInfo.NumActive == erasedByte {
		f.FeatureInfo.NumActive = 0
		return true
	}
	return false
}

// ErasedState returns the state a fob boots with when its storage has never
// been written: every byte reads back as 0xFF.
func ErasedState() *FobState {
	image := make([]byte, FobStateSize)
	for i := range image {
		image[i] = erasedByte
	}
	var state FobState
	// Cannot fail: the image is exactly FobStateSize bytes.
	_ = state.UnmarshalBinary(image)
	return &state
}

// CarSecrets is the read-only credential block a car is provisioned with at
// build time. It is never mutated at runtime.
type CarSecrets struct {
	CarID          [IDLength]byte
	Password       [PasswordLength]byte
	UnlockSecret   [SecretLength]byte
	FeatureSecrets [NumFeatures][SecretLength]byte
}

// FeatureSecret returns the secret for a feature identifier in
// [1, NumFeatures] and whether the identifier was in range.
func (c *CarSecrets) FeatureSecret(feature byte) ([]byte, bool) {
	if feature < 1 || feature > NumFeatures {
		return nil, false
	}
	return c.FeatureSecrets[feature-1][:], true
}
