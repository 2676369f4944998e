package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"harvester/internal/model"
)

// Provider kinds understood by the AI adapters.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
	KindOllama = "ollama"
)

// DefaultMaxItems caps a feed fetch when the sources file leaves max_items unset.
const DefaultMaxItems = 10

// DefaultCategories mirror the categories seeded by the migrations.
var DefaultCategories = []string{
	"general", "world", "politics", "business", "technology",
	"ai", "science", "health", "sports", "culture",
}

// Sources is the content of the sources file.
type Sources struct {
	Feeds           []FeedConfig     `yaml:"feeds"`
	Providers       []ProviderConfig `yaml:"providers"`
	Categories      []string         `yaml:"categories"`
	DefaultCategory string           `yaml:"default_category"`
	Languages       LanguagesConfig  `yaml:"languages"`
}

// FeedConfig describes one RSS source.
type FeedConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Priority string `yaml:"priority"`
	Language string `yaml:"language"`
	MaxItems int    `yaml:"max_items"`
}

// ProviderConfig describes one text-generation backend. Order in the file is failover order.
type ProviderConfig struct {
	Name      string        `yaml:"name"`
	Kind      string        `yaml:"kind"`
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// LanguagesConfig lists the pivot language and the translation targets.
// Primary is the target-market language an article cannot be published without.
type LanguagesConfig struct {
	Base    string   `yaml:"base"`
	Primary string   `yaml:"primary"`
	Targets []string `yaml:"targets"`
}

// APIKey resolves the provider key from the environment.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Source converts the entry into a feed source.
func (f FeedConfig) Source() (model.FeedSource, error) {
	priority := model.PriorityMedium
	if f.Priority != "" {
		p, err := model.ParsePriority(f.Priority)
		if err != nil {
			return model.FeedSource{}, err
		}
		priority = p
	}
	return model.FeedSource{
		Name:     f.Name,
		URL:      f.URL,
		Category: f.Category,
		Priority: priority,
		Status:   model.FeedActive,
		Language: f.Language,
		MaxItems: f.MaxItems,
	}, nil
}

// DefaultSources returns the configuration used when no sources file exists.
func DefaultSources() *Sources {
	s := &Sources{}
	s.applyDefaults()
	return s
}

// LoadSources reads and validates the sources file. A missing file yields the defaults.
func LoadSources(path string) (*Sources, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultSources(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes and validates sources YAML.
func ParseSources(data []byte) (*Sources, error) {
	var s Sources
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Sources) applyDefaults() {
	if len(s.Categories) == 0 {
		s.Categories = append([]string(nil), DefaultCategories...)
	}
	if s.DefaultCategory == "" {
		s.DefaultCategory = "general"
	}
	if s.Languages.Base == "" {
		s.Languages.Base = "en"
	}
	if s.Languages.Targets == nil {
		s.Languages.Targets = []string{"de", "fr"}
	}
	if s.Languages.Primary == "" && len(s.Languages.Targets) > 0 {
		s.Languages.Primary = s.Languages.Targets[0]
	}
	for i := range s.Feeds {
		f := &s.Feeds[i]
		if f.Name == "" {
			f.Name = f.URL
		}
		if f.Category == "" {
			f.Category = s.DefaultCategory
		}
		if f.Language == "" {
			f.Language = s.Languages.Base
		}
		if f.MaxItems <= 0 {
			f.MaxItems = DefaultMaxItems
		}
	}
	for i := range s.Providers {
		p := &s.Providers[i]
		p.Kind = strings.ToLower(p.Kind)
		if p.Name == "" {
			p.Name = p.Kind
		}
	}
}

func (s *Sources) validate() error {
	seen := make(map[string]bool, len(s.Feeds))
	for i, f := range s.Feeds {
		if f.URL == "" {
			return fmt.Errorf("feed %d: url is required", i)
		}
		if seen[f.URL] {
			return fmt.Errorf("feed %d: duplicate url %q", i, f.URL)
		}
		seen[f.URL] = true
		if _, err := f.Source(); err != nil {
			return fmt.Errorf("feed %d: %w", i, err)
		}
	}

	names := make(map[string]bool, len(s.Providers))
	for i, p := range s.Providers {
		switch p.Kind {
		case KindOpenAI, KindGemini, KindOllama:
		default:
			return fmt.Errorf("provider %d: unknown kind %q, use: openai, gemini, ollama", i, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %d (%s): model is required", i, p.Name)
		}
		if p.Kind == KindOpenAI && p.Endpoint == "" {
			return fmt.Errorf("provider %d (%s): endpoint is required", i, p.Name)
		}
		if names[p.Name] {
			return fmt.Errorf("provider %d: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
	}

	if s.Languages.Primary != "" && s.Languages.Primary != s.Languages.Base &&
		!contains(s.Languages.Targets, s.Languages.Primary) {
		return fmt.Errorf("primary language %q is not a translation target", s.Languages.Primary)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
