package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightreel/reelforge/internal/models"
)

func TestStateManager_GetReturnsIdleDraftForNewChat(t *testing.T) {
	m := NewStateManager()

	draft := m.Get(42)
	require.NotNil(t, draft)
	assert.Equal(t, StageIdle, draft.Stage)
	assert.Equal(t, models.VariantStandard, draft.Variant)
}

func TestStateManager_SetThenGet(t *testing.T) {
	m := NewStateManager()

	m.Set(42, &Draft{Stage: StageAwaitingPrompt, Mode: models.ModeVideo, ModelKey: "reel-motion-v2", SourceURL: "https://cdn.example/a.jpg"})

	draft := m.Get(42)
	assert.Equal(t, StageAwaitingPrompt, draft.Stage)
	assert.Equal(t, "reel-motion-v2", draft.ModelKey)

	// A different chat never sees another chat's draft.
	other := m.Get(43)
	assert.Equal(t, StageIdle, other.Stage)
}

func TestStateManager_ResetClearsDraft(t *testing.T) {
	m := NewStateManager()
	m.Set(42, &Draft{Stage: StageAwaitingMorphB, MorphAURL: "https://cdn.example/a.jpg"})

	m.Reset(42)

	draft := m.Get(42)
	assert.Equal(t, StageIdle, draft.Stage)
	assert.Empty(t, draft.MorphAURL)
}
