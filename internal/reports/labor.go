// Package reports renders job labor reports.
package reports

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldtrack/internal/timeentries"
	"github.com/johnfercher/maroto/pkg/color"
	"github.com/johnfercher/maroto/pkg/consts"
	"github.com/johnfercher/maroto/pkg/pdf"
	"github.com/johnfercher/maroto/pkg/props"
)

const dateLayout = "2006-01-02"

// ErrMissingJob indicates a report request without a job id.
var ErrMissingJob = errors.New("reports: job id is required")

var (
	tableHeaders = []string{"Date", "Source", "Hours", "Crew", "Labor hours", "Workers"}
	tableGrid    = []uint{2, 2, 1, 1, 2, 4}
	stripe       = color.Color{Red: 240, Green: 240, Blue: 240}
)

// LaborReport is the input of RenderLabor.
// ComponentNames maps component ids to display names; unknown ids print as-is.
type LaborReport struct {
	JobID          string
	GeneratedAt    time.Time
	Location       *time.Location
	Entries        []timeentries.TimeEntry
	ComponentNames map[string]string
}

// RenderLabor writes a PDF listing a job's entries grouped by component.
// Labor hours are entry hours multiplied by crew size.
func RenderLabor(w io.Writer, report LaborReport) error {
	if strings.TrimSpace(report.JobID) == "" {
		return ErrMissingJob
	}
	location := report.Location
	if location == nil {
		location = time.UTC
	}

	m := pdf.NewMaroto(consts.Portrait, consts.A4)
	m.SetPageMargins(20, 10, 20)

	m.RegisterHeader(func() {
		m.Row(10, func() {
			m.Col(12, func() {
				m.Text("Labor report: job "+report.JobID, props.Text{
					Top:   3,
					Style: consts.Bold,
					Align: consts.Center,
					Size:  16,
				})
			})
		})
		m.Row(8, func() {
			m.Col(12, func() {
				m.Text("Generated "+report.GeneratedAt.In(location).Format("2006-01-02 15:04"), props.Text{
					Style: consts.Normal,
					Align: consts.Center,
					Size:  10,
				})
			})
		})
	})

	groups, keys := groupByComponent(report.Entries)
	var totalHours, totalLabor float64
	for _, key := range keys {
		entries := groups[key]
		var groupHours, groupLabor float64
		rows := make([][]string, 0, len(entries))
		for _, entry := range entries {
			labor := entry.TotalHours * float64(entry.CrewCount)
			groupHours += entry.TotalHours
			groupLabor += labor
			rows = append(rows, []string{
				entry.StartTime.In(location).Format(dateLayout),
				source(entry),
				formatHours(entry.TotalHours),
				strconv.Itoa(entry.CrewCount),
				formatHours(labor),
				strings.Join(entry.WorkerNames, ", "),
			})
		}
		totalHours += groupHours
		totalLabor += groupLabor

		m.Row(10, func() {
			m.Col(12, func() {
				m.Text(componentTitle(key, report.ComponentNames), props.Text{
					Top:   5,
					Style: consts.Bold,
					Size:  12,
					Align: consts.Left,
				})
			})
		})
		m.TableList(tableHeaders, rows, props.TableList{
			HeaderProp: props.TableListContent{
				Size:      9,
				GridSizes: tableGrid,
			},
			ContentProp: props.TableListContent{
				Size:      9,
				GridSizes: tableGrid,
			},
			Align:                consts.Center,
			AlternatedBackground: &stripe,
			HeaderContentSpace:   1,
		})
		m.Row(8, func() {
			m.Col(12, func() {
				m.Text(fmt.Sprintf("Subtotal: %sh, %s labor hours", formatHours(groupHours), formatHours(groupLabor)), props.Text{
					Style: consts.Bold,
					Align: consts.Right,
					Size:  10,
				})
			})
		})
	}

	m.Row(20, func() {
		m.Col(12, func() {
			m.Text(fmt.Sprintf("Total: %sh, %s labor hours", formatHours(totalHours), formatHours(totalLabor)), props.Text{
				Top:   10,
				Style: consts.Bold,
				Align: consts.Right,
				Size:  12,
			})
		})
	})

	buffer, err := m.Output()
	if err != nil {
		return fmt.Errorf("reports: render labor pdf: %w", err)
	}
	_, err = buffer.WriteTo(w)
	return err
}

// Clock-in entries without a component group under the empty key, listed last.
func groupByComponent(entries []timeentries.TimeEntry) (map[string][]timeentries.TimeEntry, []string) {
	groups := make(map[string][]timeentries.TimeEntry)
	keys := make([]string, 0)
	for _, entry := range entries {
		key := ""
		if entry.ComponentID != nil {
			key = *entry.ComponentID
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], entry)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		if keys[i] == "" || keys[j] == "" {
			return keys[j] == "" && keys[i] != ""
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys {
		group := groups[key]
		sort.SliceStable(group, func(i, j int) bool { return group[i].StartTime.Before(group[j].StartTime) })
	}
	return groups, keys
}

// ComponentNames collects the display names recorded on entries, keyed by component id.
// The most recent non-empty name wins when a component was renamed between entries.
func ComponentNames(entries []timeentries.TimeEntry) map[string]string {
	names := make(map[string]string)
	latest := make(map[string]time.Time)
	for _, entry := range entries {
		if entry.ComponentID == nil {
			continue
		}
		name := strings.TrimSpace(entry.ComponentName)
		if name == "" {
			continue
		}
		id := *entry.ComponentID
		if seen, ok := latest[id]; ok && entry.StartTime.Before(seen) {
			continue
		}
		names[id] = name
		latest[id] = entry.StartTime
	}
	return names
}

func componentTitle(componentID string, names map[string]string) string {
	if componentID == "" {
		return "Clock in / out"
	}
	if name := strings.TrimSpace(names[componentID]); name != "" {
		return name
	}
	return "Component " + componentID
}

func source(entry timeentries.TimeEntry) string {
	if entry.IsManual {
		return "Manual"
	}
	return "Timer"
}

func formatHours(hours float64) string {
	return strconv.FormatFloat(hours, 'f', 2, 64)
}
