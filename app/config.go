package app

import (
	"github.com/sandutsar/gradio/flagging"
	"github.com/sandutsar/gradio/pipeline"
)

// Config is the interface description served at /config.
type Config struct {
	pipeline.Description
	AllowFlagging   flagging.Mode `json:"allow_flagging"`
	FlaggingOptions []string      `json:"flagging_options,omitempty"`
	Examples        [][]any       `json:"examples,omitempty"`
	CacheExamples   bool          `json:"cache_examples"`
	ShowError       bool          `json:"show_error"`
}

// Config describes the app.
func (a *App) Config() Config {
	cfg := Config{
		Description:   a.iface.Describe(),
		AllowFlagging: flagging.ModeNever,
		CacheExamples: a.cacheExamples,
		ShowError:     a.showError,
	}
	if a.flagger != nil {
		cfg.AllowFlagging = a.flagger.Mode()
		cfg.FlaggingOptions = a.flagger.Options()
	}
	if a.examples != nil {
		for i := 0; i < a.examples.Len(); i++ {
			ex, _ := a.examples.Example(i)
			cfg.Examples = append(cfg.Examples, ex)
		}
	}
	return cfg
}
