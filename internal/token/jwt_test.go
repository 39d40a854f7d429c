package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmin_Roundtrip(t *testing.T) {
	a := NewAdmin("secret", time.Hour)

	signed, err := a.Generate()
	require.NoError(t, err)
	require.NoError(t, a.Validate(signed))
}

func TestAdmin_NoExpiry(t *testing.T) {
	a := NewAdmin("secret", 0)

	signed, err := a.Generate()
	require.NoError(t, err)
	require.NoError(t, a.Validate(signed))
}

func TestAdmin_WrongSecret(t *testing.T) {
	a := NewAdmin("secret", time.Hour)
	other := NewAdmin("different", time.Hour)

	signed, err := a.Generate()
	require.NoError(t, err)
	require.Error(t, other.Validate(signed))
}

func TestAdmin_Expired(t *testing.T) {
	a := NewAdmin("secret", -time.Minute)

	signed, err := a.Generate()
	require.NoError(t, err)
	require.Error(t, a.Validate(signed))
}
