package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionEndIdempotent(t *testing.T) {
	s := Session{ID: "s-1", UserID: "u-1", Kind: SessionKindVoice, Active: true, StartedAt: time.Now()}

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.End(first)
	require.NotNil(t, s.EndedAt)
	assert.False(t, s.Active)
	assert.Equal(t, first, *s.EndedAt)

	// A second End must not move the timestamp.
	s.End(first.Add(time.Hour))
	assert.Equal(t, first, *s.EndedAt)
}

func TestAttributesCopyIsolation(t *testing.T) {
	attrs := Attributes{
		"title":  "Developer",
		"nested": map[string]interface{}{"city": "Kolkata"},
		"list":   []interface{}{1.0, 2.0},
	}

	cp := attrs.Copy()
	cp["title"] = "Senior Developer"
	cp["nested"].(map[string]interface{})["city"] = "Pune"
	cp["list"].([]interface{})[0] = 9.0

	assert.Equal(t, "Developer", attrs.String("title"))
	assert.Equal(t, "Kolkata", attrs["nested"].(map[string]interface{})["city"])
	assert.Equal(t, 1.0, attrs["list"].([]interface{})[0])

	var nilAttrs Attributes
	assert.Nil(t, nilAttrs.Copy())
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidRole(RoleUser))
	assert.True(t, ValidRole(RoleAssistant))
	assert.True(t, ValidRole(RoleSystem))
	assert.False(t, ValidRole(Role("moderator")))

	assert.True(t, ValidConfidence(0))
	assert.True(t, ValidConfidence(100))
	assert.False(t, ValidConfidence(-1))
	assert.False(t, ValidConfidence(101))
}
