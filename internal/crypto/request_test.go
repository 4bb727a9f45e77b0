package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/divasettle/internal/domain"
)

func TestSignRequest_RecoversCaller(t *testing.T) {
	s, err := NewSigner(testKey)
	require.NoError(t, err)

	body := []byte(`{"amount":"25"}`)
	sig, err := s.SignRequest("POST", "/api/redeem", 1_700_000_000, "abc", body)
	require.NoError(t, err)

	msg := RequestMessage("POST", "/api/redeem", 1_700_000_000, "abc", body)
	assert.Contains(t, msg, "POST /api/redeem\n1700000000\nabc\n0x")
	assert.Equal(t, accounts.TextHash([]byte(msg)), RequestDigest("POST", "/api/redeem", 1_700_000_000, "abc", body).Bytes())

	parsed, err := ParseSignature(hexutil.Encode(sig.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, sig, parsed)

	got, err := RecoverSigner(RequestDigest("POST", "/api/redeem", 1_700_000_000, "abc", body), parsed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), got)

	other, err := RecoverSigner(RequestDigest("POST", "/api/redeem", 1_700_000_000, "abc", []byte(`{"amount":"26"}`)), parsed)
	if err == nil {
		assert.NotEqual(t, s.Address(), other)
	}
}

func TestParseSignature(t *testing.T) {
	raw := make([]byte, 65)
	raw[64] = 1
	sig, err := ParseSignature(hexutil.Encode(raw))
	require.NoError(t, err)
	assert.Equal(t, uint8(28), sig.V)

	_, err = ParseSignature("0x1234")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	_, err = ParseSignature("not hex")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}
