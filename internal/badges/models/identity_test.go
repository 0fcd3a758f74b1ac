package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insignia/pkg/keypath"
)

func TestExtractIdentity(t *testing.T) {
	t.Run("canonical nested user record", func(t *testing.T) {
		payload, err := keypath.DecodeJSON([]byte(`{
			"course": {"course_key": "course-v1:edX+DemoX+2025"},
			"user": {
				"id": 42,
				"is_active": true,
				"pii": {"username": "cucumber1997", "email": "c@example.com", "name": "C. Umber"}
			}
		}`))
		require.NoError(t, err)

		identity, ok := ExtractIdentity(payload)
		require.True(t, ok)
		assert.Equal(t, "cucumber1997", identity.Username)
		assert.Equal(t, "c@example.com", identity.Email)
		assert.Equal(t, "C. Umber", identity.FullName)
		assert.Equal(t, int64(42), identity.ExternalID)
		assert.True(t, identity.IsActive)
	})

	t.Run("identity buried deeper in the tree", func(t *testing.T) {
		payload, err := keypath.DecodeJSON([]byte(`{
			"enrollment": {"user": {"pii": {"username": "deep"}}}
		}`))
		require.NoError(t, err)

		identity, ok := ExtractIdentity(payload)
		require.True(t, ok)
		assert.Equal(t, "deep", identity.Username)
	})

	t.Run("flat username fallback", func(t *testing.T) {
		payload, err := keypath.DecodeJSON([]byte(`{"actor": {"username": "flat"}}`))
		require.NoError(t, err)

		identity, ok := ExtractIdentity(payload)
		require.True(t, ok)
		assert.Equal(t, "flat", identity.Username)
	})

	t.Run("inactive flag respected", func(t *testing.T) {
		payload, err := keypath.DecodeJSON([]byte(`{
			"user": {"is_active": false, "pii": {"username": "ghost"}}
		}`))
		require.NoError(t, err)

		identity, ok := ExtractIdentity(payload)
		require.True(t, ok)
		assert.False(t, identity.IsActive)
	})

	t.Run("no identity anywhere", func(t *testing.T) {
		payload, err := keypath.DecodeJSON([]byte(`{"course": {"course_key": "x"}}`))
		require.NoError(t, err)

		_, ok := ExtractIdentity(payload)
		assert.False(t, ok)
	})

	t.Run("empty username rejected", func(t *testing.T) {
		payload, err := keypath.DecodeJSON([]byte(`{"user": {"pii": {"username": ""}}}`))
		require.NoError(t, err)

		_, ok := ExtractIdentity(payload)
		assert.False(t, ok)
	})
}
