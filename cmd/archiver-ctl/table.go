package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
)

type destinationRow struct {
	Location       string `json:"location"`
	FreeBytes      int64  `json:"free_bytes"`
	ClaimableBytes int64  `json:"claimable_bytes"`
	CatalogSize    int    `json:"catalog_size"`
	ActivePlot     string `json:"active_plot"`
}

type jobRow struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	SizeBytes   int64  `json:"size_bytes"`
	Attempt     int    `json:"attempt"`
	State       string `json:"state"`
	Destination string `json:"destination"`
	Progress    struct {
		Percentage       float64 `json:"percentage"`
		SpeedBytesPerSec float64 `json:"speed_bytes_per_sec"`
	} `json:"progress"`
}

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func renderStatus(w io.Writer, status map[string]interface{}) {
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := newTable(w, []string{"Key", "Value"})
	for _, k := range keys {
		v := status[k]
		if n, ok := v.(float64); ok && (k == "free_bytes" || k == "claimable_bytes") {
			v = formatBytes(int64(n))
		}
		table.Append([]string{k, fmt.Sprint(v)})
	}
	table.Render()
}

func renderDestinations(w io.Writer, dests []destinationRow) {
	table := newTable(w, []string{"Location", "Free", "Claimable", "Evictable", "Active"})
	for _, d := range dests {
		active := d.ActivePlot
		if active == "" {
			active = "-"
		}
		table.Append([]string{
			d.Location,
			formatBytes(d.FreeBytes),
			formatBytes(d.ClaimableBytes),
			fmt.Sprint(d.CatalogSize),
			active,
		})
	}
	table.Render()
}

func renderJobs(w io.Writer, jobs []jobRow) {
	table := newTable(w, []string{"Plot", "State", "Attempt", "Size", "Destination", "Progress", "Speed"})
	for _, j := range jobs {
		dest := j.Destination
		if dest == "" {
			dest = "-"
		}
		table.Append([]string{
			j.DisplayName,
			j.State,
			fmt.Sprint(j.Attempt),
			formatBytes(j.SizeBytes),
			dest,
			fmt.Sprintf("%.1f%%", j.Progress.Percentage*100),
			formatBytes(int64(j.Progress.SpeedBytesPerSec)) + "/s",
		})
	}
	table.Render()
}

func renderArchivals(w io.Writer, entries []map[string]interface{}) {
	table := newTable(w, []string{"Finished", "Plot", "Destination", "Size", "Attempt", "Result"})
	for _, e := range entries {
		result := "ok"
		if s, _ := e["succeeded"].(bool); !s {
			result = fmt.Sprint(e["error"])
		}
		table.Append([]string{
			formatTime(e["finished_at"]),
			fmt.Sprint(e["plot"]),
			fmt.Sprint(e["destination"]),
			formatBytes(asInt64(e["size_bytes"])),
			fmt.Sprint(e["attempt"]),
			result,
		})
	}
	table.Render()
}

func renderEvictions(w io.Writer, entries []map[string]interface{}) {
	table := newTable(w, []string{"Evicted", "Path", "Size", "For"})
	for _, e := range entries {
		table.Append([]string{
			formatTime(e["evicted_at"]),
			fmt.Sprint(e["path"]),
			formatBytes(asInt64(e["size_bytes"])),
			fmt.Sprint(e["for_plot"]),
		})
	}
	table.Render()
}

func asInt64(v interface{}) int64 {
	if n, ok := v.(float64); ok {
		return int64(n)
	}
	return 0
}

func formatTime(v interface{}) string {
	s, _ := v.(string)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit && exp < 4; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}
