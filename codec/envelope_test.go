package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testGreeting struct {
	Text  string
	Count int
}

type testFarewell struct {
	Text  string
	Count int
}

func TestFingerprintStable(t *testing.T) {
	require.Equal(t, FingerprintOf[testGreeting](), FingerprintOf[testGreeting]())
	require.Equal(t, FingerprintOf[string](), FingerprintOf[string]())
}

func TestFingerprintDiscriminates(t *testing.T) {
	// same shape, different names
	require.NotEqual(t, FingerprintOf[testGreeting](), FingerprintOf[testFarewell]())
	require.NotEqual(t, FingerprintOf[int](), FingerprintOf[int64]())
	require.NotEqual(t, FingerprintOf[string](), FingerprintOf[[]string]())
}

func TestMessageRoundtrip(t *testing.T) {
	m, err := NewMessage(testGreeting{Text: "hi", Count: 3})
	require.NoError(t, err)
	require.True(t, Matches[testGreeting](m))
	require.False(t, Matches[testFarewell](m))

	value, err := Decode[testGreeting](m)
	require.NoError(t, err)
	require.Equal(t, testGreeting{Text: "hi", Count: 3}, value)
}

func TestDecodeMismatch(t *testing.T) {
	m, err := NewMessage(testGreeting{Text: "hi"})
	require.NoError(t, err)

	_, err = Decode[testFarewell](m)
	require.ErrorIs(t, err, ErrFingerprintMismatch)
}

func TestNewMessageNil(t *testing.T) {
	_, err := NewMessage(nil)
	require.Error(t, err)
}
