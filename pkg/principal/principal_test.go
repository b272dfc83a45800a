package principal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerPrincipal = "wtzxg-u3qsq-7drpw-3iytd-x4mv2-e53xw-e5xyy-g7577-dc6ky-266ly-qqe"

func TestParse(t *testing.T) {
	t.Run("self-authenticating principal", func(t *testing.T) {
		p, err := Parse(ownerPrincipal)
		require.NoError(t, err)
		assert.Len(t, p, 29)
		assert.Equal(t, byte(0x02), p[len(p)-1])
		assert.Equal(t, ownerPrincipal, p.String())
	})

	t.Run("anonymous principal", func(t *testing.T) {
		p, err := Parse("2vxsx-fae")
		require.NoError(t, err)
		assert.Equal(t, Principal{0x04}, p)
	})

	t.Run("rejects malformed text", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{"empty", ""},
			{"bad checksum", "wtzxg-u3qsq-7drpw-3iytd-x4mv2-e53xw-e5xyy-g7577-dc6ky-266ly-qqa"},
			{"uppercase", strings.ToUpper(ownerPrincipal)},
			{"missing dashes", strings.ReplaceAll(ownerPrincipal, "-", "")},
			{"not base32", "2vxsx-fa1"},
			{"too short", "aaaa"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := Parse(tc.input)
				assert.ErrorIs(t, err, ErrInvalidIdentifierFormat)
			})
		}
	})
}

func TestString(t *testing.T) {
	assert.Equal(t, "em77e-bvlzu-aq", Principal{0xab, 0xcd, 0x01}.String())

	long := make(Principal, MaxLength)
	for i := range long {
		long[i] = 0xff
	}
	assert.Equal(t, "tsdi7-6x777-77777-77777-77777-77777-77777-77777-77777-77777-776", long.String())
}

func TestEncodeBytes32(t *testing.T) {
	t.Run("left pads the raw bytes", func(t *testing.T) {
		encoded, err := EncodeBytes32(ownerPrincipal)
		require.NoError(t, err)
		assert.Equal(t, "0x00000070943e38bedb46263bf195d13bbbd89dbe306ff7ff18bcac6bde5e2102", encoded)

		encoded, err = EncodeBytes32("2vxsx-fae")
		require.NoError(t, err)
		assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000004", encoded)
	})

	t.Run("invalid text", func(t *testing.T) {
		_, err := EncodeBytes32("not-a-principal")
		assert.ErrorIs(t, err, ErrInvalidIdentifierFormat)
	})

	t.Run("canister ids are unrepresentable", func(t *testing.T) {
		for _, id := range []string{"rrkah-fqaaa-aaaaa-aaaaq-cai", "ryjl3-tyaaa-aaaaa-aaaba-cai"} {
			_, err := EncodeBytes32(id)
			assert.ErrorIs(t, err, ErrInvalidIdentifierFormat, id)
			assert.ErrorIs(t, err, ErrUnrepresentable, id)
			assert.ErrorContains(t, err, "cannot be represented", id)
		}
	})

	t.Run("empty principal is refused", func(t *testing.T) {
		_, err := EncodeBytes32("aaaaa-aa")
		assert.ErrorIs(t, err, ErrInvalidIdentifierFormat)
		assert.NotErrorIs(t, err, ErrUnrepresentable)
	})
}

func TestDecodeBytes32(t *testing.T) {
	t.Run("with and without prefix", func(t *testing.T) {
		hexSlot := "00000070943e38bedb46263bf195d13bbbd89dbe306ff7ff18bcac6bde5e2102"

		text, err := DecodeBytes32("0x" + hexSlot)
		require.NoError(t, err)
		assert.Equal(t, ownerPrincipal, text)

		text, err = DecodeBytes32(hexSlot)
		require.NoError(t, err)
		assert.Equal(t, ownerPrincipal, text)
	})

	t.Run("wrong length", func(t *testing.T) {
		for _, input := range []string{"", "0x", "0x04", "0x" + strings.Repeat("00", 33)} {
			_, err := DecodeBytes32(input)
			assert.ErrorIs(t, err, ErrInvalidLength, input)
		}
	})

	t.Run("all zero", func(t *testing.T) {
		_, err := DecodeBytes32("0x" + strings.Repeat("0", 64))
		assert.ErrorIs(t, err, ErrAllZeroInput)

		_, err = DecodeBytes32(strings.Repeat("0", 64))
		assert.ErrorIs(t, err, ErrAllZeroInput)
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := DecodeBytes32("0x" + strings.Repeat("zz", 32))
		assert.ErrorIs(t, err, ErrInvalidIdentifierEncoding)
	})

	t.Run("payload longer than a principal", func(t *testing.T) {
		_, err := DecodeBytes32("0x01" + strings.Repeat("ff", 31))
		assert.ErrorIs(t, err, ErrInvalidIdentifierEncoding)
	})
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		ownerPrincipal,
		"2vxsx-fae",
		"em77e-bvlzu-aq",
		"tsdi7-6x777-77777-77777-77777-77777-77777-77777-77777-77777-776",
	}

	// every non-empty raw length with a non-zero first byte
	for n := 1; n <= MaxLength; n++ {
		raw := make(Principal, n)
		for i := range raw {
			raw[i] = byte(i*37 + n)
		}
		raw[0] |= 0x80
		inputs = append(inputs, raw.String())
	}

	for _, input := range inputs {
		encoded, err := EncodeBytes32(input)
		require.NoError(t, err, input)

		decoded, err := DecodeBytes32(encoded)
		require.NoError(t, err, input)
		assert.Equal(t, input, decoded)
	}
}
