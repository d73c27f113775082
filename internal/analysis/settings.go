// Package analysis produces AI-assisted goal analyses through Ollama's
// OpenAI-compatible API, with a templated fallback when the model is
// disabled or unreachable.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"pdca/api/internal/config"
)

const defaultSystemPrompt = `You are a PDCA coach. Given a goal, reply with one short summary paragraph followed by three to five recommendations, one per line, each starting with "- ".`

type Settings struct {
	Enabled      bool    `json:"enabled"`
	OllamaURL    string  `json:"ollama_url"`
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
	AutoAnalyze  bool    `json:"auto_analyze"`
}

func DefaultSettings(cfg config.Config) Settings {
	return Settings{
		Enabled:      cfg.OllamaURL != "",
		OllamaURL:    cfg.OllamaURL,
		Model:        cfg.OllamaModel,
		Temperature:  0.7,
		MaxTokens:    512,
		SystemPrompt: defaultSystemPrompt,
		AutoAnalyze:  true,
	}
}

func (s Settings) Validate() error {
	var problems []string
	if s.Temperature < 0 || s.Temperature > 2 {
		problems = append(problems, "temperature must be between 0 and 2")
	}
	if s.MaxTokens < 1 || s.MaxTokens > 8192 {
		problems = append(problems, "max_tokens must be between 1 and 8192")
	}
	if s.Enabled {
		if strings.TrimSpace(s.Model) == "" {
			problems = append(problems, "model is required when enabled")
		}
		u, err := url.Parse(s.OllamaURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			problems = append(problems, "ollama_url must be an http(s) URL when enabled")
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ConfigStore persists the AI settings.
type ConfigStore interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, settings Settings, updatedBy string) error
}

type rawSettingsStore interface {
	GetAISettings(ctx context.Context) (json.RawMessage, error)
	SaveAISettings(ctx context.Context, settings json.RawMessage, updatedBy string) error
}

// DBConfigStore keeps the settings as a single JSON document. Fields missing
// from the stored document take their default values.
type DBConfigStore struct {
	store    rawSettingsStore
	defaults Settings
}

func NewDBConfigStore(store rawSettingsStore, defaults Settings) *DBConfigStore {
	return &DBConfigStore{store: store, defaults: defaults}
}

func (d *DBConfigStore) Load(ctx context.Context) (Settings, error) {
	settings := d.defaults
	raw, err := d.store.GetAISettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if len(raw) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("decode ai settings: %w", err)
	}
	return settings, nil
}

func (d *DBConfigStore) Save(ctx context.Context, settings Settings, updatedBy string) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode ai settings: %w", err)
	}
	return d.store.SaveAISettings(ctx, raw, updatedBy)
}
