package keypath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload() Value {
	return Map(map[string]Value{
		"course": Map(map[string]Value{
			"id":       String("course-v1:edX+DemoX+2025"),
			"is_self_paced": Bool(true),
			"weight":   Float(2.5),
			"units":    Int(12),
		}),
		"tags": Seq(String("a"), String("b")),
	})
}

func TestResolve(t *testing.T) {
	t.Run("nested hit", func(t *testing.T) {
		got := Resolve(payload(), "course.id")
		require.False(t, got.IsNothing())
		assert.Equal(t, "course-v1:edX+DemoX+2025", got.Text())
	})

	t.Run("missing leaf", func(t *testing.T) {
		assert.True(t, Resolve(payload(), "course.name").IsNothing())
	})

	t.Run("missing root", func(t *testing.T) {
		assert.True(t, Resolve(payload(), "enrollment.mode").IsNothing())
	})

	t.Run("descending through a scalar", func(t *testing.T) {
		assert.True(t, Resolve(payload(), "course.id.deeper").IsNothing())
	})

	t.Run("descending through a sequence", func(t *testing.T) {
		assert.True(t, Resolve(payload(), "tags.first").IsNothing())
	})

	t.Run("empty path", func(t *testing.T) {
		assert.True(t, Resolve(payload(), "").IsNothing())
	})

	t.Run("empty segment", func(t *testing.T) {
		assert.True(t, Resolve(payload(), "course..id").IsNothing())
	})
}

func TestText(t *testing.T) {
	assert.Equal(t, "True", Resolve(payload(), "course.is_self_paced").Text())
	assert.Equal(t, "2.5", Resolve(payload(), "course.weight").Text())
	assert.Equal(t, "12", Resolve(payload(), "course.units").Text())
	assert.Equal(t, "", payload().Text(), "mappings render empty")
	assert.Equal(t, "", Nothing.Text())
}

func TestValidPath(t *testing.T) {
	assert.True(t, ValidPath("a"))
	assert.True(t, ValidPath("a.b.c"))
	assert.False(t, ValidPath(""))
	assert.False(t, ValidPath("a..b"))
	assert.False(t, ValidPath(".a"))
	assert.False(t, ValidPath("a."))
}

func TestDecodeJSON(t *testing.T) {
	raw := []byte(`{"user":{"id":42,"is_active":true,"pii":{"username":"cucumber1997"}},"score":99.5}`)
	tree, err := DecodeJSON(raw)
	require.NoError(t, err)

	assert.Equal(t, "42", Resolve(tree, "user.id").Text())
	assert.Equal(t, "True", Resolve(tree, "user.is_active").Text())
	assert.Equal(t, "cucumber1997", Resolve(tree, "user.pii.username").Text())
	assert.Equal(t, "99.5", Resolve(tree, "score").Text())

	_, err = DecodeJSON([]byte(`{not json`))
	require.Error(t, err)
}
