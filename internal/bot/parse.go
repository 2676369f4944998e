package bot

import (
	"fmt"
	"strconv"
	"strings"

	"harvester/internal/model"
)

// Limits of the /runs command.
const (
	defaultRunsShown = 5
	maxRunsShown     = 20
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("feed ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid feed ID %q", s)
	}
	return id, nil
}

// ParseCountArg parses the optional count of /runs.
func ParseCountArg(args string) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return defaultRunsShown, nil
	}
	n, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || n < 1 || n > maxRunsShown {
		return 0, fmt.Errorf("count must be between 1 and %d", maxRunsShown)
	}
	return n, nil
}

// ParseTierArg parses an optional priority tier. An empty argument yields "".
func ParseTierArg(args string) (model.Priority, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return "", nil
	}
	return model.ParsePriority(strings.Fields(s)[0])
}

// ParseSetArgs splits "/set <key> <value>".
func ParseSetArgs(args string) (string, string, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("usage: /set <key> <value>")
	}
	return strings.ToLower(parts[0]), parts[1], nil
}

// settingKeys lists the keys accepted by /set, in display order.
var settingKeys = []string{
	"enabled",
	"high_interval",
	"medium_interval",
	"low_interval",
	"daily_target",
	"max_per_hour",
	"min_qa_score",
	"auto_publish",
	"simhash_threshold",
	"cross_source_dedup",
	"paywall_filter",
}

// ApplySetting updates one field of st from a /set command.
func ApplySetting(st *model.BotSettings, key, value string) error {
	switch key {
	case "enabled":
		return parseBool(value, &st.Enabled)
	case "auto_publish":
		return parseBool(value, &st.AutoPublish)
	case "cross_source_dedup":
		return parseBool(value, &st.CrossSourceDedup)
	case "paywall_filter":
		return parseBool(value, &st.PaywallFilter)
	case "high_interval":
		return parseInt(value, 1, 1440, &st.HighIntervalMin)
	case "medium_interval":
		return parseInt(value, 1, 1440, &st.MediumIntervalMin)
	case "low_interval":
		return parseInt(value, 1, 1440, &st.LowIntervalMin)
	case "daily_target":
		return parseInt(value, 1, 1000, &st.DailyArticleTarget)
	case "max_per_hour":
		return parseInt(value, 1, 100, &st.MaxArticlesPerHour)
	case "simhash_threshold":
		return parseInt(value, 0, 16, &st.SimHashThreshold)
	case "min_qa_score":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("min_qa_score must be between 0 and 1")
		}
		st.MinQAScore = f
		return nil
	}
	return fmt.Errorf("unknown setting %q, use one of: %s", key, strings.Join(settingKeys, ", "))
}

func parseBool(value string, dst *bool) error {
	switch strings.ToLower(value) {
	case "on", "true", "yes", "1":
		*dst = true
	case "off", "false", "no", "0":
		*dst = false
	default:
		return fmt.Errorf("invalid boolean %q, use on or off", value)
	}
	return nil
}

func parseInt(value string, lo, hi int, dst *int) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < lo || n > hi {
		return fmt.Errorf("value must be between %d and %d", lo, hi)
	}
	*dst = n
	return nil
}
