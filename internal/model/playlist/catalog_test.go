package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
)

func TestDefaultCoversEveryEmotion(t *testing.T) {
	c := Default()
	for _, label := range emotion.Labels() {
		cat, ok := c.ForEmotion(label)
		require.True(t, ok, "no category for %s", label)
		assert.NotEmpty(t, cat.Tracks)
	}
	assert.Len(t, c.List(), len(emotion.Labels()))
}

func TestPickUsesRandomSource(t *testing.T) {
	c := Default()
	c.pick = func(n int) int { return n - 1 }

	track, ok := c.Pick(emotion.Joy)
	require.True(t, ok)
	assert.Equal(t, "Moo Deng", track.Title)

	_, ok = c.Pick(emotion.Label("boredom"))
	assert.False(t, ok)
}

func TestListReturnsCopies(t *testing.T) {
	c := Default()
	list := c.List()
	list[0].Tracks[0].Title = "changed"

	cat, _ := c.ForEmotion(emotion.Sadness)
	assert.Equal(t, "Half Lit Ember", cat.Tracks[0].Title)
}
