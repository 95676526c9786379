package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelopePair(t *testing.T) (host, client *Envelope) {
	t.Helper()

	hostPriv, hostPub, err := GenerateKeyPair()
	require.NoError(t, err)
	clientPriv, clientPub, err := GenerateKeyPair()
	require.NoError(t, err)

	hostRoot, err := RootKey(hostPriv, clientPub)
	require.NoError(t, err)
	clientRoot, err := RootKey(clientPriv, hostPub)
	require.NoError(t, err)
	require.Equal(t, hostRoot, clientRoot, "both sides must derive the same root key")

	hn, err := NewNonce()
	require.NoError(t, err)
	cn, err := NewNonce()
	require.NoError(t, err)

	h2c, c2h, err := SessionKeys(hostRoot, hn, cn)
	require.NoError(t, err)
	require.NotEqual(t, h2c, c2h, "direction keys must differ")

	host, err = NewEnvelope(h2c, c2h)
	require.NoError(t, err)
	client, err = NewEnvelope(c2h, h2c)
	require.NoError(t, err)
	return host, client
}

func TestSealOpenRoundTrip(t *testing.T) {
	host, client := testEnvelopePair(t)

	for _, plaintext := range [][]byte{
		[]byte("hello world"),
		{},
		bytes.Repeat([]byte{0xAB}, 64*1024),
	} {
		sealed, err := host.Seal(7, plaintext)
		require.NoError(t, err)
		assert.Equal(t, len(plaintext)+Overhead, len(sealed))

		opened, err := client.Open(7, sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, append([]byte{}, opened...))
	}
}

func TestOpenRejectsTamper(t *testing.T) {
	host, client := testEnvelopePair(t)

	sealed, err := host.Seal(1, []byte("secret"))
	require.NoError(t, err)

	for i := 0; i < len(sealed); i++ {
		corrupted := append([]byte{}, sealed...)
		corrupted[i] ^= 0x80
		_, err := client.Open(1, corrupted)
		assert.ErrorIs(t, err, ErrAuthFailure, "byte %d", i)
	}
}

func TestOpenRejectsWrongSequence(t *testing.T) {
	host, client := testEnvelopePair(t)

	sealed, err := host.Seal(5, []byte("bound to seq 5"))
	require.NoError(t, err)

	_, err = client.Open(6, sealed)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestOpenRejectsShortInput(t *testing.T) {
	_, client := testEnvelopePair(t)
	_, err := client.Open(0, make([]byte, Overhead-1))
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestSealNonceSaltVaries(t *testing.T) {
	host, _ := testEnvelopePair(t)

	a, err := host.Seal(9, []byte("same input"))
	require.NoError(t, err)
	b, err := host.Seal(9, []byte("same input"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two seals of the same frame must not repeat the nonce salt")
}

func TestHelloRoundTrip(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	nonce, err := NewNonce()
	require.NoError(t, err)

	in := &Hello{
		Version:  Version,
		Mode:     ModeResume,
		Pub:      pub,
		Nonce:    nonce,
		Confirm:  ResumeConfirm([]byte("pinned-root-key"), nonce),
		RecvNext: 1234567,
	}

	out, err := DecodeHello(EncodeHello(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeHelloRejectsBadInput(t *testing.T) {
	nonce, err := NewNonce()
	require.NoError(t, err)
	good := EncodeHello(&Hello{Version: Version, Mode: ModeFresh, Nonce: nonce})

	short := good[:HelloSize-1]
	_, err = DecodeHello(short)
	assert.ErrorIs(t, err, ErrBadHello)

	wrongVersion := append([]byte{}, good...)
	wrongVersion[0] = Version + 1
	_, err = DecodeHello(wrongVersion)
	assert.ErrorIs(t, err, ErrVersionMismatch)

	wrongMode := append([]byte{}, good...)
	wrongMode[1] = 0x7F
	_, err = DecodeHello(wrongMode)
	assert.ErrorIs(t, err, ErrBadHello)
}

func TestResumeConfirm(t *testing.T) {
	root := []byte("root key material")
	nonce, err := NewNonce()
	require.NoError(t, err)

	confirm := ResumeConfirm(root, nonce)
	assert.True(t, VerifyResumeConfirm(root, nonce, confirm))
	assert.False(t, VerifyResumeConfirm([]byte("different key"), nonce, confirm))

	other, err := NewNonce()
	require.NoError(t, err)
	assert.False(t, VerifyResumeConfirm(root, other, confirm))
}
