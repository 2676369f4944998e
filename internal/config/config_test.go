package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"harvester/internal/model"
)

var envKeys = []string{
	"DATABASE_PATH", "LOG_LEVEL", "SOURCES_PATH", "TELEGRAM_BOT_TOKEN", "ALLOWED_USERS",
	"OPERATOR_CHAT_ID", "METRICS_ADDR", "FEED_TIMEOUT", "PROVIDER_TIMEOUT", "IMAGE_ENDPOINT",
}

func TestLoad(t *testing.T) {
	defaults := Config{
		DatabasePath:    "./data/harvester.db",
		LogLevel:        "info",
		SourcesPath:     "./config/sources.yaml",
		MetricsAddr:     ":9090",
		FeedTimeout:     10 * time.Second,
		ProviderTimeout: 90 * time.Second,
	}

	tests := []struct {
		name    string
		env     map[string]string
		want    func(c *Config)
		wantErr bool
	}{
		{
			name: "defaults applied",
			env:  map[string]string{},
		},
		{
			name: "all values set",
			env: map[string]string{
				"TELEGRAM_BOT_TOKEN": "tok",
				"DATABASE_PATH":      "/tmp/h.db",
				"LOG_LEVEL":          "debug",
				"SOURCES_PATH":       "/etc/harvester/sources.yaml",
				"ALLOWED_USERS":      "111,222,333",
				"OPERATOR_CHAT_ID":   "-100123",
				"METRICS_ADDR":       "127.0.0.1:9100",
				"FEED_TIMEOUT":       "5s",
				"PROVIDER_TIMEOUT":   "2m",
				"IMAGE_ENDPOINT":     "http://images:8080/generate",
			},
			want: func(c *Config) {
				c.TelegramBotToken = "tok"
				c.DatabasePath = "/tmp/h.db"
				c.LogLevel = "debug"
				c.SourcesPath = "/etc/harvester/sources.yaml"
				c.AllowedUsers = []int64{111, 222, 333}
				c.OperatorChatID = -100123
				c.MetricsAddr = "127.0.0.1:9100"
				c.FeedTimeout = 5 * time.Second
				c.ProviderTimeout = 2 * time.Minute
				c.ImageEndpoint = "http://images:8080/generate"
			},
		},
		{
			name: "allowed users with spaces",
			env:  map[string]string{"ALLOWED_USERS": " 10 , 20 , "},
			want: func(c *Config) { c.AllowedUsers = []int64{10, 20} },
		},
		{
			name: "empty metrics address disables metrics",
			env:  map[string]string{"METRICS_ADDR": ""},
			want: func(c *Config) { c.MetricsAddr = "" },
		},
		{
			name:    "invalid user id",
			env:     map[string]string{"ALLOWED_USERS": "123,abc"},
			wantErr: true,
		},
		{
			name:    "invalid operator chat",
			env:     map[string]string{"OPERATOR_CHAT_ID": "ops"},
			wantErr: true,
		},
		{
			name:    "invalid timeout",
			env:     map[string]string{"FEED_TIMEOUT": "10"},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			env:     map[string]string{"PROVIDER_TIMEOUT": "-1s"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range envKeys {
				t.Setenv(key, "")
				_ = os.Unsetenv(key)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := Load()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := defaults
			if tt.want != nil {
				tt.want(&want)
			}
			if diff := cmp.Diff(&want, got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsUserAllowed(t *testing.T) {
	tests := []struct {
		name         string
		allowedUsers []int64
		userID       int64
		want         bool
	}{
		{
			name:         "empty list allows everyone",
			allowedUsers: nil,
			userID:       42,
			want:         true,
		},
		{
			name:         "user in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       20,
			want:         true,
		},
		{
			name:         "user not in list",
			allowedUsers: []int64{10, 20, 30},
			userID:       99,
			want:         false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{AllowedUsers: tt.allowedUsers}
			got := cfg.IsUserAllowed(tt.userID)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("IsUserAllowed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

const sampleSources = `
feeds:
  - name: Reuters World
    url: https://feeds.example.com/world.rss
    category: world
    priority: high
    max_items: 5
  - url: https://tech.example.org/feed
    category: technology
    priority: Low
    language: de
providers:
  - name: groq
    kind: openai
    endpoint: https://api.groq.com/openai/v1
    model: llama-3.3-70b-versatile
    api_key_env: GROQ_API_KEY
    cooldown: 2m
  - kind: Gemini
    model: gemini-2.0-flash
    api_key_env: GEMINI_API_KEY
  - name: local
    kind: ollama
    model: llama3.1
categories: [general, world, technology]
languages:
  base: en
  targets: [de, fr, es]
`

func TestParseSources(t *testing.T) {
	got, err := ParseSources([]byte(sampleSources))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := &Sources{
		Feeds: []FeedConfig{
			{Name: "Reuters World", URL: "https://feeds.example.com/world.rss", Category: "world", Priority: "high", Language: "en", MaxItems: 5},
			{Name: "https://tech.example.org/feed", URL: "https://tech.example.org/feed", Category: "technology", Priority: "Low", Language: "de", MaxItems: DefaultMaxItems},
		},
		Providers: []ProviderConfig{
			{Name: "groq", Kind: KindOpenAI, Endpoint: "https://api.groq.com/openai/v1", Model: "llama-3.3-70b-versatile", APIKeyEnv: "GROQ_API_KEY", Cooldown: 2 * time.Minute},
			{Name: "gemini", Kind: KindGemini, Model: "gemini-2.0-flash", APIKeyEnv: "GEMINI_API_KEY"},
			{Name: "local", Kind: KindOllama, Model: "llama3.1"},
		},
		Categories:      []string{"general", "world", "technology"},
		DefaultCategory: "general",
		Languages:       LanguagesConfig{Base: "en", Primary: "de", Targets: []string{"de", "fr", "es"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseSources() mismatch (-want +got):\n%s", diff)
	}

	src, err := got.Feeds[1].Source()
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	if diff := cmp.Diff(model.PriorityLow, src.Priority); diff != "" {
		t.Errorf("priority mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSourcesInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "feed without url", yaml: "feeds:\n  - name: x\n"},
		{name: "duplicate feed url", yaml: "feeds:\n  - url: https://a\n  - url: https://a\n"},
		{name: "unknown priority", yaml: "feeds:\n  - url: https://a\n    priority: urgent\n"},
		{name: "unknown provider kind", yaml: "providers:\n  - kind: claude\n    model: m\n"},
		{name: "provider without model", yaml: "providers:\n  - kind: ollama\n"},
		{name: "openai without endpoint", yaml: "providers:\n  - kind: openai\n    model: m\n"},
		{name: "primary language not translated", yaml: "languages:\n  primary: it\n  targets: [de]\n"},
		{name: "malformed yaml", yaml: "feeds: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSources([]byte(tt.yaml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoadSourcesMissingFile(t *testing.T) {
	got, err := LoadSources(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(DefaultSources(), got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if len(got.Feeds) != 0 || len(got.Providers) != 0 {
		t.Errorf("defaults must not contain feeds or providers: %+v", got)
	}
}

func TestLoadSourcesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(sampleSources), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadSources(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(2, len(got.Feeds)); diff != "" {
		t.Errorf("feeds mismatch (-want +got):\n%s", diff)
	}
}

func TestProviderAPIKey(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "secret")
	p := ProviderConfig{APIKeyEnv: "TEST_PROVIDER_KEY"}
	if diff := cmp.Diff("secret", p.APIKey()); diff != "" {
		t.Errorf("api key mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("", ProviderConfig{}.APIKey()); diff != "" {
		t.Errorf("empty env name mismatch (-want +got):\n%s", diff)
	}
}
