package cryptoctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	// given
	rt, err := New(Config{})
	require.NoError(t, err)
	msg := []byte("POST\n/secure/data\napi.example.com")

	// when
	sig, err := rt.SignPQB64(context.Background(), msg)

	// then
	require.NoError(t, err)
	require.NoError(t, VerifyPQB64("", rt.PQPublicKeyB64(), sig, msg))
	require.ErrorIs(t, VerifyPQB64(DefaultPQScheme, rt.PQPublicKeyB64(), sig, []byte("tampered")), ErrBadSignature)
}

func TestUnknownScheme(t *testing.T) {
	_, err := New(Config{PQSchemeName: "RSA-512"})

	require.ErrorIs(t, err, ErrUnknownScheme)
}

func TestSignAfterClose(t *testing.T) {
	rt, err := New(Config{PQSchemeName: "ML-DSA-44"})
	require.NoError(t, err)
	require.NoError(t, rt.Close())

	_, err = rt.SignPQB64(context.Background(), []byte("m"))

	assert.ErrorIs(t, err, ErrClosed)
}
