package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContext(t *testing.T) {
	ctx := NewRequestContext("fake-user", "fake-project", "member")
	assert.Equal(t, "fake-user", ctx.UserID)
	assert.Equal(t, "fake-project", ctx.ProjectID)
	assert.False(t, ctx.IsAdmin)
	require.True(t, strings.HasPrefix(ctx.RequestID, "req-"))
	// The request ID must vary between contexts.
	other := NewRequestContext("fake-user", "fake-project")
	assert.NotEqual(t, ctx.RequestID, other.RequestID)

	admin := NewRequestContext("fake-user", "fake-project", "Admin")
	assert.True(t, admin.IsAdmin)
}

func TestElevated(t *testing.T) {
	ctx := NewRequestContext("fake-user", "fake-project", "member")
	elevated := ctx.Elevated()
	assert.True(t, elevated.IsAdmin)
	assert.Contains(t, elevated.Roles, "admin")
	// The original context is untouched.
	assert.False(t, ctx.IsAdmin)
	assert.NotContains(t, ctx.Roles, "admin")

	// Already-admin contexts keep their role list.
	re := elevated.Elevated()
	assert.Equal(t, elevated.Roles, re.Roles)
}

func TestImageMetadataHelpers(t *testing.T) {
	image := &ImageMetadata{
		Size:   1024,
		Status: ImageStatusActive,
		Properties: map[string]interface{}{
			"kernel_id": "some-kernel",
		},
	}
	assert.True(t, image.HasData())
	assert.Equal(t, "some-kernel", image.Property("kernel_id"))
	assert.Nil(t, image.Property("ramdisk_id"))

	queued := &ImageMetadata{Status: ImageStatusQueued}
	assert.False(t, queued.HasData())
	assert.Nil(t, queued.Property("anything"))
}
