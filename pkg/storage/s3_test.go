package storage

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageExtension(t *testing.T) {
	ext, ok := ImageExtension("image/JPEG")
	assert.True(t, ok)
	assert.Equal(t, ".jpg", ext)

	_, ok = ImageExtension("video/mp4")
	assert.False(t, ok)
}

func TestCourseImageKey(t *testing.T) {
	k1 := CourseImageKey("c1", ".png")
	k2 := CourseImageKey("c1", ".png")
	assert.True(t, strings.HasPrefix(k1, "courses/c1/"))
	assert.True(t, strings.HasSuffix(k1, ".png"))
	assert.NotEqual(t, k1, k2)
}
