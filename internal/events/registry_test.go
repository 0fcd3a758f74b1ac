package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const registryYAML = `
events:
  - type: org.openedx.learning.course.passing.status.updated.v1
    keypaths:
      - course.course_key
      - is_passing
      - user.pii.username
  - type: org.openedx.learning.student.registration.completed.v1
`

func TestParse(t *testing.T) {
	registry, err := Parse([]byte(registryYAML))
	require.NoError(t, err)

	assert.True(t, registry.Known("org.openedx.learning.course.passing.status.updated.v1"))
	assert.False(t, registry.Known("org.openedx.learning.course.grade.now.failed.v1"))
	assert.Len(t, registry.Types(), 2)
}

func TestParseRejectsBadInput(t *testing.T) {
	_, err := Parse([]byte("events: []"))
	assert.Error(t, err)

	_, err = Parse([]byte("events:\n  - keypaths: [a]"))
	assert.Error(t, err)

	_, err = Parse([]byte("events:\n  - type: a\n  - type: a"))
	assert.Error(t, err, "duplicate types rejected")

	_, err = Parse([]byte("{{nope"))
	assert.Error(t, err)
}

func TestValidKeypath(t *testing.T) {
	registry, err := Parse([]byte(registryYAML))
	require.NoError(t, err)

	passing := "org.openedx.learning.course.passing.status.updated.v1"
	assert.True(t, registry.ValidKeypath(passing, "course.course_key"))
	assert.False(t, registry.ValidKeypath(passing, "course.display_name"))

	// No declared keypaths: shape unknown, any path accepted.
	registration := "org.openedx.learning.student.registration.completed.v1"
	assert.True(t, registry.ValidKeypath(registration, "anything.goes"))

	assert.False(t, registry.ValidKeypath("unknown.event", "a.b"))
}
