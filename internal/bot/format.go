package bot

import (
	"fmt"
	"strings"
	"time"

	"harvester/internal/ai"
	"harvester/internal/model"
	"harvester/internal/scheduler"
)

const (
	stateOn  = "on"
	stateOff = "off"
)

func onOff(v bool) string {
	if v {
		return stateOn
	}
	return stateOff
}

// FormatStatus formats the scheduler status and provider availability.
func FormatStatus(st *scheduler.Status, providers []ai.ProviderStatus, now time.Time) string {
	var b strings.Builder
	state := "running"
	switch {
	case !st.Enabled:
		state = "disabled"
	case !st.Running:
		state = "stopped"
	}
	fmt.Fprintf(&b, "Scheduler: %s\n", state)
	fmt.Fprintf(&b, "Published today: %d/%d\n", st.PublishedToday, st.DailyTarget)
	fmt.Fprintf(&b, "This hour: %d/%d\n", st.PublishedThisHour, st.MaxPerHour)

	b.WriteString("\nIntervals:\n")
	for _, p := range model.Priorities {
		fmt.Fprintf(&b, "  %s: every %s\n", p, st.Intervals[p])
	}

	if len(providers) > 0 {
		b.WriteString("\nProviders:\n")
		for _, p := range providers {
			if p.Blocked {
				fmt.Fprintf(&b, "  %s: blocked for %s\n", p.Name, p.ResetAt.Sub(now).Round(time.Second))
				continue
			}
			fmt.Fprintf(&b, "  %s: ready\n", p.Name)
		}
	}

	if len(st.RecentRuns) > 0 {
		b.WriteString("\nRecent runs:\n")
		b.WriteString(formatRunLines(st.RecentRuns))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRuns formats a list of run logs, newest first.
func FormatRuns(runs []model.RunLog) string {
	if len(runs) == 0 {
		return "No runs recorded yet."
	}
	return "Recent runs:\n" + strings.TrimRight(formatRunLines(runs), "\n")
}

func formatRunLines(runs []model.RunLog) string {
	var b strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&b, "  %s [%s] published %d, skipped %d, fetched %d",
			r.StartedAt.Format("01-02 15:04"), r.Priority, r.ItemsPublished, r.ItemsSkipped, r.ItemsFetched)
		if r.FinishedAt == nil {
			b.WriteString(" (running)")
		}
		if len(r.Errors) > 0 {
			fmt.Fprintf(&b, ", %d errors", len(r.Errors))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatSettings formats the pipeline settings with their /set keys.
func FormatSettings(st model.BotSettings) string {
	var b strings.Builder
	b.WriteString("Settings:\n")
	fmt.Fprintf(&b, "  enabled: %s\n", onOff(st.Enabled))
	fmt.Fprintf(&b, "  high_interval: %d min\n", st.HighIntervalMin)
	fmt.Fprintf(&b, "  medium_interval: %d min\n", st.MediumIntervalMin)
	fmt.Fprintf(&b, "  low_interval: %d min\n", st.LowIntervalMin)
	fmt.Fprintf(&b, "  daily_target: %d\n", st.DailyArticleTarget)
	fmt.Fprintf(&b, "  max_per_hour: %d\n", st.MaxArticlesPerHour)
	fmt.Fprintf(&b, "  min_qa_score: %.2f\n", st.MinQAScore)
	fmt.Fprintf(&b, "  auto_publish: %s\n", onOff(st.AutoPublish))
	fmt.Fprintf(&b, "  simhash_threshold: %d\n", st.SimHashThreshold)
	fmt.Fprintf(&b, "  cross_source_dedup: %s\n", onOff(st.CrossSourceDedup))
	fmt.Fprintf(&b, "  paywall_filter: %s", onOff(st.PaywallFilter))
	return b.String()
}

// FormatFeedList formats feed sources for display.
func FormatFeedList(feeds []model.FeedSource) string {
	if len(feeds) == 0 {
		return "No feeds configured. Add them to the sources file."
	}
	var b strings.Builder
	b.WriteString("Feeds:\n")
	for _, f := range feeds {
		fmt.Fprintf(&b, "\n#%d %s [%s, %s] (%s)\n", f.ID, f.Name, f.Priority, f.Category, f.Status)
		fmt.Fprintf(&b, "   fetched %d, published %d", f.TotalFetched, f.TotalPublished)
		if f.LastFetchedAt != nil {
			fmt.Fprintf(&b, ", last fetch %s", f.LastFetchedAt.Format("2006-01-02 15:04 UTC"))
		}
		b.WriteString("\n")
		if f.ErrorCount > 0 && f.LastError != "" {
			fmt.Fprintf(&b, "   %d errors, last: %s\n", f.ErrorCount, f.LastError)
		}
	}
	return b.String()
}
