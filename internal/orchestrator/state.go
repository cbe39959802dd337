package orchestrator

import (
	"fmt"
	"time"

	"github.com/JakeFAU/content-collector/internal/collector"
	"github.com/JakeFAU/content-collector/internal/extract"
	"github.com/JakeFAU/content-collector/internal/progress"
)

// runState is owned by the coordinator goroutine of one run. Jobs never see
// it.
type runState struct {
	cfg      Config
	total    int
	seen     map[string]struct{}
	intake   int
	items    []collector.Item
	outcomes []collector.Outcome
	lastPct  int
}

func newRunState(cfg Config, total int) *runState {
	return &runState{
		cfg:   cfg,
		total: total,
		seen:  make(map[string]struct{}),
	}
}

// fold merges one outcome. It returns the client messages to send, in order.
func (s *runState) fold(out collector.Outcome) []progress.Message {
	msgs := []progress.Message{progress.LogMessage(resultLine(out))}
	for _, item := range out.Items {
		if !collector.ValidItemURL(item.URL) {
			continue
		}
		item.Body = extract.Cap(item.Body, s.cfg.MaxBodyChars)
		if item.Summary == "" {
			item.Summary = extract.Summarize(item.Body, s.cfg.SummaryChars)
		}
		s.intake++
		msgs = append(msgs, progress.ItemMessage(progress.ItemPreview{
			Title:       item.Title,
			Summary:     extract.Truncate(item.Summary, s.cfg.PreviewChars),
			URL:         item.URL,
			SourceName:  item.SourceName,
			PublishedAt: item.PublishedAt,
		}, s.intake))

		key, err := collector.NormalizeURL(item.URL)
		if err != nil {
			continue
		}
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.items = append(s.items, item)
	}
	s.outcomes = append(s.outcomes, out)

	// One progress message per finished job, even when the percentage stalls.
	s.lastPct = max(s.collectPercent(), s.lastPct)
	msgs = append(msgs, progress.ProgressMessage(s.lastPct))
	return msgs
}

// collectPercent scales completed jobs onto 0..90; the rest is reserved for
// saving.
func (s *runState) collectPercent() int {
	if s.total == 0 {
		return 0
	}
	return len(s.outcomes) * 90 / s.total
}

func (s *runState) counts() progress.SourceCounts {
	var c progress.SourceCounts
	for _, out := range s.outcomes {
		switch out.Status {
		case collector.StatusSuccess:
			c.Success++
		case collector.StatusSlow:
			c.Slow++
		default:
			c.Failed++
		}
	}
	return c
}

func resultLine(out collector.Outcome) string {
	name := out.Source.Name
	if name == "" {
		name = out.Source.URL
	}
	elapsed := out.Elapsed.Round(100 * time.Millisecond)
	switch out.Status {
	case collector.StatusSuccess:
		return fmt.Sprintf("%s: %d items in %s", name, len(out.Items), elapsed)
	case collector.StatusSlow:
		return fmt.Sprintf("%s: %d items in %s (slow)", name, len(out.Items), elapsed)
	default:
		reason := "unknown error"
		if out.Err != nil {
			reason = out.Err.Error()
		}
		return fmt.Sprintf("%s: failed after %s: %s", name, elapsed, reason)
	}
}
