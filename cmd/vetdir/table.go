package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/GGPrompts/vibe4vets-sub003/directory"
)

const maxCellWidth = 60

// table writes left-aligned columns sized by display width, so accented
// and wide characters in messages keep the columns straight.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) { t.rows = append(t.rows, cells) }

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i := range row {
			row[i] = runewidth.Truncate(row[i], maxCellWidth, "...")
			if cw := runewidth.StringWidth(row[i]); cw > widths[i] {
				widths[i] = cw
			}
		}
	}
	line := func(cells []string) {
		var b strings.Builder
		for i, c := range cells {
			if i == len(cells)-1 {
				b.WriteString(c)
				break
			}
			b.WriteString(runewidth.FillRight(c, widths[i]))
			b.WriteString("  ")
		}
		fmt.Fprintln(w, strings.TrimRight(b.String(), " "))
	}
	line(t.header)
	for _, row := range t.rows {
		line(row)
	}
}

func printJobs(w io.Writer, list []directory.ScheduledJob) {
	t := &table{header: []string{"JOB", "SCHEDULE", "NEXT RUN", "RUNNING", "DESCRIPTION"}}
	for _, j := range list {
		next := "-"
		if j.NextRun != nil {
			next = j.NextRun.Local().Format(time.DateTime)
		}
		t.add(j.Name, strings.Join(j.Schedules, ", "), next, fmt.Sprint(j.Running), j.Description)
	}
	t.render(w)
}

func printResults(w io.Writer, list []*directory.JobResult) {
	t := &table{header: []string{"JOB", "TRIGGER", "STATUS", "STARTED", "DURATION", "MESSAGE"}}
	for _, r := range list {
		started := "-"
		if r.StartedAt != nil {
			started = r.StartedAt.Local().Format(time.DateTime)
		}
		msg := r.Message
		if r.Error != "" {
			msg = r.Error
		}
		t.add(r.JobName, string(r.Trigger), string(r.Status), started, r.Duration().Round(time.Millisecond).String(), msg)
	}
	t.render(w)
}
