package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"harvester/internal/ai"
	"harvester/internal/model"
	"harvester/internal/publish"
	"harvester/internal/storage"
)

// prose returns paragraphs of 18-word sentences made of distinct words.
func prose(prefix string, paragraphs, sentences int) []string {
	var out []string
	n := 0
	for p := 0; p < paragraphs; p++ {
		var ss []string
		for s := 0; s < sentences; s++ {
			words := make([]string, 18)
			for w := range words {
				words[w] = fmt.Sprintf("%s%d", prefix, n)
				n++
			}
			ss = append(ss, strings.Join(words, " ")+".")
		}
		out = append(out, strings.Join(ss, " "))
	}
	return out
}

func htmlParagraphs(paras []string) string {
	return "<p>" + strings.Join(paras, "</p><p>") + "</p>"
}

type fakeWriter struct {
	mu          sync.Mutex
	rewriteBody string
	rewriteErr  error
	failLangs   map[string]bool
	rewrites    int
	translated  []string
}

func (f *fakeWriter) Rewrite(_ context.Context, in ai.RewriteInput) (ai.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewrites++
	if f.rewriteErr != nil {
		return ai.Article{}, f.rewriteErr
	}
	return ai.Article{
		Title: "Rewritten: " + in.Title,
		Lead:  "Lead.",
		Body:  f.rewriteBody,
		Tags:  []string{"transport", "budget"},
	}, nil
}

func (f *fakeWriter) Translate(_ context.Context, lang string, src ai.Article) (ai.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.translated = append(f.translated, lang)
	if f.failLangs[lang] {
		return ai.Article{}, fmt.Errorf("%s: %w", lang, ai.ErrAllProvidersFailed)
	}
	out := src
	out.Title = src.Title + " (" + lang + ")"
	return out, nil
}

type env struct {
	store  *storage.SQLite
	writer *fakeWriter
	pipe   *Pipeline
	feed   model.FeedSource
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	feed := model.FeedSource{Name: "World Desk", URL: "https://a.example/rss", Category: "world", Language: "en", Priority: model.PriorityHigh}
	if _, err := store.SyncFeed(context.Background(), &feed); err != nil {
		t.Fatalf("sync feed: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	writer := &fakeWriter{rewriteBody: htmlParagraphs(prose("r", 5, 6))}
	pub := publish.New(store, nil, publish.Config{BaseLanguage: "en", PrimaryLanguage: "de"}, nil, log)
	pipe := New(store, writer, pub, Config{BaseLanguage: "en", TargetLanguages: []string{"de", "fr"}}, nil, log)
	return &env{store: store, writer: writer, pipe: pipe, feed: feed}
}

func (e *env) addItem(t *testing.T, guid, title, content string) model.FetchedItem {
	t.Helper()
	it := model.FetchedItem{
		FeedID:      e.feed.ID,
		GUID:        guid,
		Title:       title,
		Link:        "https://a.example/" + guid,
		Content:     content,
		ContentHash: "hash-" + guid,
		SimHash:     "0000000000000001",
	}
	if _, err := e.store.UpsertItem(context.Background(), &it); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return it
}

func (e *env) feeds() map[int64]model.FeedSource {
	return map[int64]model.FeedSource{e.feed.ID: e.feed}
}

func (e *env) item(t *testing.T, id int64) *model.FetchedItem {
	t.Helper()
	it, err := e.store.GetItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	return it
}

var sourceExtract = htmlParagraphs(prose("s", 5, 7)) // 630 words

func TestProcessEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	item := e.addItem(t, "budget", "Council approves the regional transport budget", sourceExtract)

	out := e.pipe.Process(ctx, []model.FetchedItem{item}, e.feeds(), model.DefaultSettings())

	want := &Outcome{Processed: 1, Published: 1, PublishedByFeed: map[int64]int{e.feed.ID: 1}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("outcome mismatch (-want +got):\n%s", diff)
	}

	got := e.item(t, item.ID)
	if !got.Processed || got.ArticleID == nil || got.SkipReason != "" {
		t.Fatalf("expected processed item with article id, got %+v", got)
	}
	translations, err := e.store.ArticleTranslations(ctx, *got.ArticleID)
	if err != nil {
		t.Fatalf("translations: %v", err)
	}
	var langs []string
	for _, l := range []string{"de", "en", "fr"} {
		if _, ok := translations[l]; ok {
			langs = append(langs, l)
		}
	}
	if diff := cmp.Diff([]string{"de", "en", "fr"}, langs); diff != "" {
		t.Errorf("languages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("Rewritten: Council approves the regional transport budget (de)", translations["de"].Title); diff != "" {
		t.Errorf("de title mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessSkips(t *testing.T) {
	title := "Council approves the regional transport budget"
	tests := []struct {
		name        string
		content     string
		settings    func(*model.BotSettings)
		writer      func(*fakeWriter)
		wantReason  string
		wantRewrite int
		check       func(t *testing.T, out *Outcome)
	}{
		{
			name:       "too short for the pre-filter",
			content:    "<p>Only a few words here.</p>",
			wantReason: model.SkipPrefilterPrefix + "too_few_words",
			check: func(t *testing.T, out *Outcome) {
				if out.PrefilterRejected != 1 || out.QARejected != 0 {
					t.Errorf("unexpected counters: %+v", out)
				}
			},
		},
		{
			name:       "paywall keyword",
			content:    sourceExtract + "<p>Subscribe to continue reading.</p>",
			wantReason: model.SkipPaywall,
		},
		{
			name:        "rewrite fails on every provider",
			content:     sourceExtract,
			writer:      func(w *fakeWriter) { w.rewriteErr = fmt.Errorf("rewrite: %w", ai.ErrAllProvidersFailed) },
			wantReason:  model.SkipAIFailed,
			wantRewrite: 1,
			check: func(t *testing.T, out *Outcome) {
				if out.AIFailed != 1 || len(out.Errors) != 1 {
					t.Errorf("unexpected counters: %+v", out)
				}
			},
		},
		{
			name:        "rewrite too short for QA",
			content:     sourceExtract,
			writer:      func(w *fakeWriter) { w.rewriteBody = htmlParagraphs(prose("q", 1, 2)) },
			wantReason:  model.SkipQABelowThreshold,
			wantRewrite: 1,
			check: func(t *testing.T, out *Outcome) {
				if out.QARejected != 1 || out.PrefilterRejected != 0 {
					t.Errorf("unexpected counters: %+v", out)
				}
			},
		},
		{
			name:        "primary language translation fails",
			content:     sourceExtract,
			writer:      func(w *fakeWriter) { w.failLangs = map[string]bool{"de": true} },
			wantReason:  model.SkipMissingLanguage,
			wantRewrite: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			if tt.writer != nil {
				tt.writer(e.writer)
			}
			st := model.DefaultSettings()
			if tt.settings != nil {
				tt.settings(&st)
			}
			item := e.addItem(t, "x", title, tt.content)

			out := e.pipe.Process(context.Background(), []model.FetchedItem{item}, e.feeds(), st)

			if out.Published != 0 || out.Skipped != 1 {
				t.Errorf("expected one skipped item, got %+v", out)
			}
			got := e.item(t, item.ID)
			if diff := cmp.Diff(tt.wantReason, got.SkipReason); diff != "" {
				t.Errorf("reason mismatch (-want +got):\n%s", diff)
			}
			if !got.Processed || got.ArticleID != nil {
				t.Errorf("skipped item must be processed without article: %+v", got)
			}
			if diff := cmp.Diff(tt.wantRewrite, e.writer.rewrites); diff != "" {
				t.Errorf("rewrite calls mismatch (-want +got):\n%s", diff)
			}
			if tt.check != nil {
				tt.check(t, out)
			}
		})
	}
}

func TestProcessPaywallFilterDisabled(t *testing.T) {
	e := newEnv(t)
	item := e.addItem(t, "x", "Council approves the regional transport budget", sourceExtract+"<p>Subscribe to continue reading.</p>")
	st := model.DefaultSettings()
	st.PaywallFilter = false

	out := e.pipe.Process(context.Background(), []model.FetchedItem{item}, e.feeds(), st)
	if diff := cmp.Diff(1, out.Published); diff != "" {
		t.Errorf("published mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessStopsBeforeNextItemWhenCancelled(t *testing.T) {
	e := newEnv(t)
	first := e.addItem(t, "a", "Council approves the regional transport budget", sourceExtract)
	second := e.addItem(t, "b", "Storms flood several northern coastal towns", htmlParagraphs(prose("t", 5, 7)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := e.pipe.Process(ctx, []model.FetchedItem{first, second}, e.feeds(), model.DefaultSettings())

	if diff := cmp.Diff(0, out.Processed); diff != "" {
		t.Errorf("processed mismatch (-want +got):\n%s", diff)
	}
	pending, err := e.store.ListPendingItems(context.Background(), []int64{e.feed.ID}, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if diff := cmp.Diff(2, len(pending)); diff != "" {
		t.Errorf("items must stay pending (-want +got):\n%s", diff)
	}
}

func TestTranslateSkipsBaseLanguage(t *testing.T) {
	e := newEnv(t)
	e.pipe.cfg.TargetLanguages = []string{"en", "de"}
	langs := e.pipe.translate(context.Background(), model.FetchedItem{}, ai.Article{Title: "T", Body: "<p>B</p>"})

	if _, ok := langs["de"]; !ok {
		t.Error("expected de translation")
	}
	if diff := cmp.Diff([]string{"de"}, e.writer.translated); diff != "" {
		t.Errorf("translated mismatch (-want +got):\n%s", diff)
	}
}
