package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("pay 100 to bob")
	sig := Sign(kp.Private, msg)

	assert.True(t, Verify(kp.Public.SerializeCompressed(), sig, msg))
	assert.True(t, Verify(kp.Public.SerializeUncompressed(), sig, msg))
}

func TestVerifyRejectsWrongKeyOrMessage(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("pay 100 to bob")
	sig := Sign(kp.Private, msg)

	assert.False(t, Verify(other.Public.SerializeCompressed(), sig, msg))
	assert.False(t, Verify(kp.Public.SerializeCompressed(), sig, []byte("pay 100 to mallory")))
}

func TestVerifyMalformedInputsReturnFalse(t *testing.T) {
	assert.False(t, Verify([]byte("not a key"), []byte("not a sig"), []byte("msg")))
	assert.False(t, Verify(nil, nil, nil))
}

func TestAddressRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	addr := AddressFromPub(kp.Public.SerializeCompressed())
	assert.True(t, ValidateAddress(addr))

	hash := AddressToPubKeyHash(addr)
	require.NotNil(t, hash)
	assert.Equal(t, HashingPubKey(kp.Public.SerializeCompressed()), hash)
}

func TestValidateAddressRejectsMalformed(t *testing.T) {
	assert.False(t, ValidateAddress("not-an-address"))
	assert.False(t, ValidateAddress(""))
}
