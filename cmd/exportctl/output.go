package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
)

const displayTime = "2006-01-02 15:04 MST"

// printStructured writes data as JSON or YAML. It reports false for table output.
func printStructured(w io.Writer, format string, data interface{}) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(data)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return true, enc.Encode(data)
	case "table", "":
		return false, nil
	}
	return true, fmt.Errorf("unknown output format %q", format)
}

func printSchedulesTable(w io.Writer, list []*models.Schedule, loc *time.Location) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tREPORT\tFREQUENCY\tSTATUS\tNEXT RUN\tFAILURES")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%s\t%s\t%d\n",
			shortID(s.ID),
			s.Name,
			s.ReportType,
			s.Format,
			describeRule(s),
			s.Status,
			formatTime(s.NextRun, loc),
			s.FailureCount,
		)
	}
	return tw.Flush()
}

func printSchedule(w io.Writer, s *models.Schedule, loc *time.Location) {
	fmt.Fprintf(w, "ID:          %s\n", s.ID)
	fmt.Fprintf(w, "Name:        %s\n", s.Name)
	fmt.Fprintf(w, "Report:      %s (%s)\n", s.ReportType, s.Format)
	fmt.Fprintf(w, "Rule:        %s\n", describeRule(s))
	fmt.Fprintf(w, "Recipients:  %s\n", strings.Join(s.Recipients, ", "))
	fmt.Fprintf(w, "Status:      %s\n", s.Status)
	fmt.Fprintf(w, "Next Run:    %s\n", formatTime(s.NextRun, loc))
	if s.LastRun != nil {
		fmt.Fprintf(w, "Last Run:    %s\n", formatTime(*s.LastRun, loc))
	}
	if s.FailureCount > 0 {
		fmt.Fprintf(w, "Failures:    %d\n", s.FailureCount)
	}
	if s.LastError != "" {
		fmt.Fprintf(w, "Last Error:  %s\n", s.LastError)
	}
	fmt.Fprintf(w, "Version:     %d\n", s.Version)
}

func printRuns(w io.Writer, runs []time.Time, loc *time.Location) {
	for i, r := range runs {
		fmt.Fprintf(w, "%2d  %s\n", i+1, formatTime(r, loc))
	}
}

func describeRule(s *models.Schedule) string {
	switch {
	case s.DayOfWeek != nil:
		return fmt.Sprintf("%s %s at %s", s.Frequency, time.Weekday(*s.DayOfWeek), s.TimeOfDay)
	case s.DayOfMonth != nil:
		return fmt.Sprintf("%s day %d at %s", s.Frequency, *s.DayOfMonth, s.TimeOfDay)
	}
	return fmt.Sprintf("%s at %s", s.Frequency, s.TimeOfDay)
}

func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format(displayTime)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
