package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sreekarkrishna/RPiModelTrainController/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	LinesByKind       map[string]int
	Endpoints         map[string]*EndpointStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// EndpointStats holds statistics for one session endpoint.
type EndpointStats struct {
	FirstSeen   time.Time
	LastSeen    time.Time
	Events      int
	Connections map[string]bool
	Backoffs    int
	MaxAttempt  uint64
	LastState   string
}

// RunStats analyzes the trace file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		LinesByKind:       make(map[string]int),
		Endpoints:         make(map[string]*EndpointStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	ep, ok := s.Endpoints[event.Endpoint]
	if !ok {
		ep = &EndpointStats{
			FirstSeen:   event.Timestamp,
			LastSeen:    event.Timestamp,
			Connections: make(map[string]bool),
		}
		s.Endpoints[event.Endpoint] = ep
	}
	ep.Events++
	if event.Timestamp.After(ep.LastSeen) {
		ep.LastSeen = event.Timestamp
	}
	if event.ConnectionID != "" {
		ep.Connections[event.ConnectionID] = true
	}

	switch {
	case event.Line != nil:
		s.EventsByDirection[event.Direction]++
		s.LinesByKind[lineKind(event.Line.Text)]++
	case event.StateChange != nil:
		ep.LastState = event.StateChange.NewState
		if event.StateChange.NewState == "BACKOFF" {
			ep.Backoffs++
		}
		if event.StateChange.Attempt > ep.MaxAttempt {
			ep.MaxAttempt = event.StateChange.Attempt
		}
	case event.Error != nil:
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Protocol Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryControl, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Lines by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.LinesByKind) > 0 {
		fmt.Fprintln(w, "Lines by Kind:")
		kinds := make([]string, 0, len(stats.LinesByKind))
		for k := range stats.LinesByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-12s %d\n", k+":", stats.LinesByKind[k])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Endpoints: %d\n", len(stats.Endpoints))
	if len(stats.Endpoints) > 0 {
		names := make([]string, 0, len(stats.Endpoints))
		for name := range stats.Endpoints {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			return stats.Endpoints[names[i]].FirstSeen.Before(stats.Endpoints[names[j]].FirstSeen)
		})

		fmt.Fprintln(w)
		for _, name := range names {
			ep := stats.Endpoints[name]
			label := name
			if label == "" {
				label = "(none)"
			}
			duration := ep.LastSeen.Sub(ep.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, %d connections, duration %s\n",
				label, ep.Events, len(ep.Connections), duration)
			if ep.Backoffs > 0 {
				fmt.Fprintf(w, "           Backoffs: %d (max attempt %d)\n", ep.Backoffs, ep.MaxAttempt)
			}
			if ep.LastState != "" {
				fmt.Fprintf(w, "           Last state: %s\n", ep.LastState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
