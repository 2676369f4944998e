package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"harvester/internal/metrics"
	"harvester/internal/model"
	"harvester/internal/textutil"
)

// DefaultCooldown is used for providers configured without one.
const DefaultCooldown = 60 * time.Second

// Output limits of generated metadata.
const (
	MaxTags               = 5
	MaxSEOTitleLen        = 60
	MaxMetaDescriptionLen = 160
)

// Entry is one configured provider.
type Entry struct {
	Provider TextProvider
	Cooldown time.Duration
}

// RewriteInput is the source material of a rewrite.
type RewriteInput struct {
	Title          string
	SourceURL      string
	Extract        string
	SourceLanguage string
}

// Article is the JSON contract of rewrite and translate responses.
type Article struct {
	Title           string   `json:"title"`
	Lead            string   `json:"lead"`
	Body            string   `json:"body"`
	Tags            []string `json:"tags,omitempty"`
	SEOTitle        string   `json:"seoTitle"`
	MetaDescription string   `json:"metaDescription"`
}

// Content converts the article to its per-language form.
func (a Article) Content() model.LangContent {
	return model.LangContent{
		Title:           a.Title,
		Lead:            a.Lead,
		Body:            a.Body,
		Tags:            a.Tags,
		SEOTitle:        a.SEOTitle,
		MetaDescription: a.MetaDescription,
	}
}

// ProviderStatus is the rate-limit state of a provider.
type ProviderStatus struct {
	Name    string
	Blocked bool
	ResetAt time.Time
}

type providerState struct {
	blocked bool
	resetAt time.Time
}

// Orchestrator calls providers in order until one succeeds.
type Orchestrator struct {
	entries []Entry
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	state map[string]*providerState
}

// NewOrchestrator creates an Orchestrator over entries in priority order.
func NewOrchestrator(entries []Entry, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	state := make(map[string]*providerState, len(entries))
	for i := range entries {
		if entries[i].Cooldown <= 0 {
			entries[i].Cooldown = DefaultCooldown
		}
		state[entries[i].Provider.Name()] = &providerState{}
	}
	return &Orchestrator{
		entries: entries,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		state:   state,
	}
}

// Rewrite turns a source extract into a long-form English article.
func (o *Orchestrator) Rewrite(ctx context.Context, in RewriteInput) (Article, error) {
	system, user := rewritePrompt(in)
	var out Article
	err := o.generate(ctx, "rewrite", system, user, func(raw string) error {
		var a Article
		if err := decodeStrict(raw, &a); err != nil {
			return err
		}
		if err := validate(a); err != nil {
			return err
		}
		out = normalize(a)
		return nil
	})
	return out, err
}

// Translate translates a rewritten article into lang. Tags are carried over, not translated.
func (o *Orchestrator) Translate(ctx context.Context, lang string, src Article) (Article, error) {
	payload := src
	payload.Tags = nil
	articleJSON, err := compactJSON(payload)
	if err != nil {
		return Article{}, fmt.Errorf("encode article: %w", err)
	}

	system, user := translatePrompt(LookupLanguage(lang), articleJSON)
	var out Article
	err = o.generate(ctx, "translate:"+lang, system, user, func(raw string) error {
		var a Article
		if err := decodeStrict(raw, &a); err != nil {
			return err
		}
		if err := validate(a); err != nil {
			return err
		}
		a.Tags = append([]string(nil), src.Tags...)
		out = normalize(a)
		return nil
	})
	return out, err
}

// Status returns the rate-limit state of every provider in order.
func (o *Orchestrator) Status() []ProviderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	out := make([]ProviderStatus, 0, len(o.entries))
	for _, e := range o.entries {
		st := o.state[e.Provider.Name()]
		o.resetIfDueLocked(st, now)
		out = append(out, ProviderStatus{Name: e.Provider.Name(), Blocked: st.blocked, ResetAt: st.resetAt})
	}
	return out
}

// generate runs the failover loop. accept parses the raw text; a parse failure
// counts as a provider error and moves on to the next provider.
func (o *Orchestrator) generate(ctx context.Context, op, system, user string, accept func(string) error) error {
	if len(o.entries) == 0 {
		return ErrNoProviders
	}

	var errs []error
	for _, e := range o.entries {
		name := e.Provider.Name()
		if blocked, until := o.isBlocked(name); blocked {
			o.logger.Debug("provider blocked", "op", op, "provider", name, "blocked_until", until)
			errs = append(errs, fmt.Errorf("%s: blocked until %s", name, until.Format(time.RFC3339)))
			continue
		}

		raw, err := e.Provider.Generate(ctx, system, user)
		if err == nil {
			if perr := accept(raw); perr != nil {
				err = &ProviderError{Provider: name, Kind: KindOther, Err: perr}
			}
		}
		if err == nil {
			o.metrics.RecordProviderCall(name, "ok")
			return nil
		}

		kind, retryAfter := Classify(err)
		o.metrics.RecordProviderCall(name, kind.String())
		errs = append(errs, err)

		if kind == KindRateLimited {
			cooldown := e.Cooldown
			if retryAfter > 0 {
				cooldown = retryAfter
			}
			until := o.block(name, cooldown)
			o.logger.Warn("provider rate limited", "op", op, "provider", name, "kind", kind, "blocked_until", until)
		} else {
			o.logger.Warn("provider failed", "op", op, "provider", name, "kind", kind, "error", err)
		}

		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrAllProvidersFailed, errors.Join(errs...))
}

func (o *Orchestrator) isBlocked(name string) (bool, time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state[name]
	o.resetIfDueLocked(st, o.now())
	return st.blocked, st.resetAt
}

func (o *Orchestrator) block(name string, d time.Duration) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state[name]
	st.blocked = true
	st.resetAt = o.now().Add(d)
	return st.resetAt
}

func (o *Orchestrator) resetIfDueLocked(st *providerState, now time.Time) {
	if st.blocked && !now.Before(st.resetAt) {
		st.blocked = false
		st.resetAt = time.Time{}
	}
}

func validate(a Article) error {
	if strings.TrimSpace(a.Title) == "" {
		return errors.New("response has no title")
	}
	if strings.TrimSpace(a.Body) == "" {
		return errors.New("response has no body")
	}
	return nil
}

func normalize(a Article) Article {
	a.Title = strings.TrimSpace(a.Title)
	a.Lead = strings.TrimSpace(a.Lead)
	a.Body = strings.TrimSpace(a.Body)

	seen := make(map[string]bool, len(a.Tags))
	tags := make([]string, 0, MaxTags)
	for _, t := range a.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
		if len(tags) == MaxTags {
			break
		}
	}
	a.Tags = tags

	a.SEOTitle = strings.TrimSpace(a.SEOTitle)
	if a.SEOTitle == "" {
		a.SEOTitle = a.Title
	}
	if utf8.RuneCountInString(a.SEOTitle) > MaxSEOTitleLen {
		a.SEOTitle = textutil.Truncate(a.SEOTitle, MaxSEOTitleLen)
	}

	a.MetaDescription = strings.TrimSpace(a.MetaDescription)
	if a.MetaDescription == "" {
		a.MetaDescription = textutil.HTMLToText(a.Lead)
	}
	if utf8.RuneCountInString(a.MetaDescription) > MaxMetaDescriptionLen {
		a.MetaDescription = textutil.Truncate(a.MetaDescription, MaxMetaDescriptionLen)
	}
	return a
}
