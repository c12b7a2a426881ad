package telegram

import (
	"sync"

	"github.com/nightreel/reelforge/internal/models"
)

type Stage int

const (
	StageIdle Stage = iota
	StageAwaitingModel
	StageAwaitingSource
	StageAwaitingPrompt
	StageAwaitingMorphA
	StageAwaitingMorphB
)

// Draft accumulates the inputs of one operation across messages. It is a
// staging area only: once complete it is resolved into an immutable
// OperationRequest value and the draft is reset, so nothing downstream of
// the bot ever reads shared mutable session state.
type Draft struct {
	Stage     Stage
	Mode      models.OperationMode
	Variant   models.Variant
	ModelKey  string
	Prompt    string
	SourceURL string
	MorphAURL string
	MorphBURL string
}

type StateManager struct {
	mu     sync.RWMutex
	drafts map[int64]*Draft
}

func NewStateManager() *StateManager {
	return &StateManager{drafts: make(map[int64]*Draft)}
}

func (m *StateManager) Get(chatID int64) *Draft {
	m.mu.RLock()
	draft, ok := m.drafts[chatID]
	m.mu.RUnlock()
	if ok {
		return draft
	}
	return &Draft{Stage: StageIdle, Variant: models.VariantStandard}
}

func (m *StateManager) Set(chatID int64, draft *Draft) {
	m.mu.Lock()
	m.drafts[chatID] = draft
	m.mu.Unlock()
}

func (m *StateManager) Reset(chatID int64) {
	m.Set(chatID, &Draft{Stage: StageIdle, Variant: models.VariantStandard})
}
