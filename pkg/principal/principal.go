// Package principal converts destination-ledger account identifiers
// (principals) between their textual form and the 32-byte slot the helper
// contract takes as its deposit tag.
package principal

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
)

const (
	// MaxLength is the largest raw principal in bytes.
	MaxLength = 29

	// SlotLength is the width of the contract argument holding a principal.
	SlotLength = 32

	checksumLength = 4
	groupLength    = 5
)

var (
	ErrInvalidIdentifierFormat   = errors.New("invalid identifier format")
	ErrInvalidLength             = errors.New("invalid bytes32 length")
	ErrAllZeroInput              = errors.New("bytes32 input is all zero")
	ErrInvalidIdentifierEncoding = errors.New("invalid identifier encoding")

	// ErrUnrepresentable marks identifiers whose raw form starts with a zero
	// byte, such as canister ids. The zero padding of a bytes32 slot would
	// swallow that byte, so they cannot be used as a deposit tag.
	ErrUnrepresentable = errors.New("identifier starts with a zero byte and cannot be represented as bytes32")
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Principal is the raw byte form of an identifier.
type Principal []byte

// FromBytes wraps raw bytes as a Principal
func FromBytes(raw []byte) (Principal, error) {
	if len(raw) > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidIdentifierEncoding, len(raw), MaxLength)
	}
	return Principal(bytes.Clone(raw)), nil
}

// Parse decodes the textual form: dash-grouped lowercase base32 of a
// big-endian CRC32 checksum followed by the raw bytes.
func Parse(text string) (Principal, error) {
	compact := strings.ReplaceAll(text, "-", "")
	if compact == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidIdentifierFormat)
	}

	decoded, err := encoding.DecodeString(strings.ToUpper(compact))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentifierFormat, err)
	}
	if len(decoded) < checksumLength {
		return nil, fmt.Errorf("%w: too short", ErrInvalidIdentifierFormat)
	}

	raw := decoded[checksumLength:]
	if len(raw) > MaxLength {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidIdentifierFormat, len(raw), MaxLength)
	}
	if binary.BigEndian.Uint32(decoded[:checksumLength]) != crc32.ChecksumIEEE(raw) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrInvalidIdentifierFormat)
	}

	p := Principal(raw)
	if p.String() != text {
		return nil, fmt.Errorf("%w: %q is not in canonical form", ErrInvalidIdentifierFormat, text)
	}
	return p, nil
}

// String returns the canonical textual form.
func (p Principal) String() string {
	buf := make([]byte, checksumLength, checksumLength+len(p))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(p))
	buf = append(buf, p...)

	encoded := strings.ToLower(encoding.EncodeToString(buf))

	var sb strings.Builder
	for i := 0; i < len(encoded); i += groupLength {
		if i > 0 {
			sb.WriteByte('-')
		}
		end := i + groupLength
		if end > len(encoded) {
			end = len(encoded)
		}
		sb.WriteString(encoded[i:end])
	}
	return sb.String()
}

// ToBytes32 parses text and left-pads the raw bytes with zeros into a
// contract slot. A raw form starting with a zero byte is refused with
// ErrUnrepresentable.
func ToBytes32(text string) ([SlotLength]byte, error) {
	var slot [SlotLength]byte

	p, err := Parse(text)
	if err != nil {
		return slot, err
	}
	if len(p) == 0 {
		return slot, fmt.Errorf("%w: %q has no raw bytes", ErrInvalidIdentifierFormat, text)
	}
	if p[0] == 0 {
		return slot, fmt.Errorf("%w: %w: %q", ErrInvalidIdentifierFormat, ErrUnrepresentable, text)
	}

	copy(slot[SlotLength-len(p):], p)
	return slot, nil
}

// EncodeBytes32 is ToBytes32 rendered as 0x-prefixed hex.
func EncodeBytes32(text string) (string, error) {
	slot, err := ToBytes32(text)
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(slot[:]), nil
}

// DecodeBytes32 reverses EncodeBytes32. The 0x prefix is optional.
func DecodeBytes32(input string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(input, "0x"), "0X")
	if len(trimmed) != SlotLength*2 {
		return "", fmt.Errorf("%w: got %d hex characters, want %d", ErrInvalidLength, len(trimmed), SlotLength*2)
	}

	slot, err := hex.DecodeString(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentifierEncoding, err)
	}

	return FromSlot(slot)
}

// FromSlot strips the zero padding from a 32-byte slot and returns the
// textual identifier it carries.
func FromSlot(slot []byte) (string, error) {
	if len(slot) != SlotLength {
		return "", fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidLength, len(slot), SlotLength)
	}

	start := 0
	for start < len(slot) && slot[start] == 0 {
		start++
	}
	if start == len(slot) {
		return "", ErrAllZeroInput
	}

	p, err := FromBytes(slot[start:])
	if err != nil {
		return "", err
	}
	return p.String(), nil
}
