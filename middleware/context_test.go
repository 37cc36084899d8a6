package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldGetIdentity(t *testing.T) {
	t.Run("return error on missing identity", func(t *testing.T) {
		// given: context without identity
		ctx := t.Context()

		// when:
		_, err := ShouldGetIdentity(ctx)

		// then:
		require.ErrorIs(t, err, ErrNoIdentity)
		assert.Empty(t, UserIDFromContext(ctx))
	})

	t.Run("return stored identity", func(t *testing.T) {
		// given:
		ctx := WithIdentity(t.Context(), Identity{UserID: "u1", DeviceID: "d1"})

		// when:
		id, err := ShouldGetIdentity(ctx)

		// then:
		require.NoError(t, err)
		assert.Equal(t, "d1", id.DeviceID)
		assert.Equal(t, "u1", UserIDFromContext(ctx))
	})
}
