package app

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

func TestDeriveSigningIdentity_Deterministic(t *testing.T) {
	a1 := DeriveSigningIdentity("secret", "a@example.com")
	a2 := DeriveSigningIdentity("secret", "a@example.com")
	b := DeriveSigningIdentity("secret", "b@example.com")
	otherSecret := DeriveSigningIdentity("rotated", "a@example.com")

	assert.Equal(t, a1.Address, a2.Address)
	assert.NotEqual(t, a1.Address, b.Address)
	assert.NotEqual(t, a1.Address, otherSecret.Address)
	assert.Regexp(t, addressPattern, a1.Address)
}

func TestSigningIdentity_SignVerify(t *testing.T) {
	id := DeriveSigningIdentity("secret", "a@example.com")
	msg := []byte(`{"method":"nft.mint"}`)

	sig := id.Sign(msg)
	assert.True(t, id.Verify(msg, sig))
	assert.False(t, id.Verify([]byte(`{"method":"msg.send"}`), sig))

	other := DeriveSigningIdentity("secret", "b@example.com")
	assert.False(t, other.Verify(msg, sig))
}

func TestSigningIdentity_StringHidesKey(t *testing.T) {
	id := DeriveSigningIdentity("secret", "a@example.com")
	assert.Equal(t, id.Address, id.String())
}

func TestReceiptHash(t *testing.T) {
	id := DeriveSigningIdentity("secret", "a@example.com")
	h := ReceiptHash(id.Sign([]byte("m")))

	assert.True(t, strings.HasPrefix(h, "0x"))
	assert.Len(t, h, 66)
	assert.Equal(t, h, ReceiptHash(id.Sign([]byte("m"))))
	assert.NotEqual(t, h, ReceiptHash(id.Sign([]byte("n"))))
}

func TestParseSigningSeed(t *testing.T) {
	valid := strings.Repeat("00", 31) + "01"

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain hex", valid, false},
		{"0x prefix", "0x" + valid, false},
		{"surrounding space", " 0x" + valid + "\n", false},
		{"short", "0x0102", true},
		{"not hex", "0xzz" + valid[2:], true},
		{"empty", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seed, err := ParseSigningSeed(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, seed, 32)
			assert.Equal(t, byte(1), seed[31])
		})
	}
}
