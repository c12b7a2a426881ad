package catalog

import (
	"fmt"

	"github.com/nightreel/reelforge/internal/models"
)

// ModelConfig is one row of the static pricing/capability table. The table
// is loaded once at startup and never mutated at runtime.
type ModelConfig struct {
	Key           string
	Title         string
	Mode          models.OperationMode
	ProviderModel string
	Price         int64
	SupportsMorph bool
}

type Catalog struct {
	models map[string]ModelConfig
	order  []string
}

// ErrUnknownModel reports a model key absent from the catalog.
type ErrUnknownModel struct {
	Key string
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("unknown model key: %s", e.Key)
}

func New(configs []ModelConfig) *Catalog {
	c := &Catalog{models: make(map[string]ModelConfig, len(configs))}
	for _, cfg := range configs {
		if _, ok := c.models[cfg.Key]; ok {
			continue
		}
		c.models[cfg.Key] = cfg
		c.order = append(c.order, cfg.Key)
	}
	return c
}

// Default returns the built-in model table.
func Default() *Catalog {
	return New([]ModelConfig{
		{Key: "reel-motion-v2", Title: "Reel Motion v2", Mode: models.ModeVideo, ProviderModel: "reel-motion/v2-image-to-video", Price: 30, SupportsMorph: true},
		{Key: "reel-motion-lite", Title: "Reel Motion Lite", Mode: models.ModeVideo, ProviderModel: "reel-motion/lite-image-to-video", Price: 15, SupportsMorph: false},
		{Key: "still-studio", Title: "Still Studio", Mode: models.ModePhoto, ProviderModel: "still-studio/pro", Price: 10, SupportsMorph: false},
		{Key: "voxcraft", Title: "VoxCraft", Mode: models.ModeVoice, ProviderModel: "voxcraft/tts-v1", Price: 5, SupportsMorph: false},
	})
}

func (c *Catalog) Lookup(key string) (ModelConfig, error) {
	cfg, ok := c.models[key]
	if !ok {
		return ModelConfig{}, &ErrUnknownModel{Key: key}
	}
	return cfg, nil
}

func (c *Catalog) List() []ModelConfig {
	out := make([]ModelConfig, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.models[key])
	}
	return out
}

// DefaultForMode returns the first model serving the given mode.
func (c *Catalog) DefaultForMode(mode models.OperationMode) (ModelConfig, bool) {
	for _, key := range c.order {
		if c.models[key].Mode == mode {
			return c.models[key], true
		}
	}
	return ModelConfig{}, false
}
