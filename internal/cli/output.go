package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/sumanism/ECA2/internal/audience"
	"github.com/sumanism/ECA2/internal/store"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

const maxCell = 40

const timeLayout = "2006-01-02 15:04"

// Printer renders command results to Out.
type Printer struct {
	Out    io.Writer
	Format OutputFormat
}

// print writes v as JSON or YAML, or calls table for the table format.
func (p Printer) print(v any, table func(*tablewriter.Table) error) error {
	switch p.Format {
	case FormatJSON:
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		return p.printYAML(v)
	case FormatTable, "":
		t := tablewriter.NewWriter(p.Out)
		if err := table(t); err != nil {
			return err
		}
		return t.Render()
	default:
		return fmt.Errorf("unsupported format: %s", p.Format)
	}
}

// printYAML goes through JSON so field names follow the json tags.
func (p Printer) printYAML(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(p.Out)
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(generic)
}

func (p Printer) Segments(segs []store.Segment) error {
	return p.print(map[string][]store.Segment{"segments": segs}, func(t *tablewriter.Table) error {
		t.Header("ID", "Name", "Definition", "Created At")
		for _, s := range segs {
			if err := t.Append(s.ID, s.Name, truncate(string(s.Definition)), s.CreatedAt.Format(timeLayout)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p Printer) Segment(s *store.Segment) error {
	return p.print(s, func(t *tablewriter.Table) error {
		t.Header("ID", "Name", "Definition", "Created At")
		return t.Append(s.ID, s.Name, truncate(string(s.Definition)), s.CreatedAt.Format(timeLayout))
	})
}

// SegmentUsers prints matching users under the server-chosen columns.
func (p Printer) SegmentUsers(segmentID string, total int, columns []string, rows []map[string]any) error {
	v := map[string]any{"segment_id": segmentID, "total_count": total, "columns": columns, "users": rows}
	return p.print(v, func(t *tablewriter.Table) error {
		header := make([]any, len(columns))
		for i, c := range columns {
			header[i] = c
		}
		t.Header(header...)
		for _, row := range rows {
			cells := make([]any, len(columns))
			for i, c := range columns {
				cells[i] = cell(row[c])
			}
			if err := t.Append(cells...); err != nil {
				return err
			}
		}
		t.Footer("", "total", strconv.Itoa(total))
		return nil
	})
}

// Report prints per-criterion outcomes followed by any issues.
func (p Printer) Report(r *audience.Report) error {
	return p.print(r, func(t *tablewriter.Table) error {
		t.Header("#", "Field", "Operator", "Value", "Passed", "Failed")
		for _, c := range r.Criteria {
			value, _ := json.Marshal(c.Criterion.Value)
			if err := t.Append(strconv.Itoa(c.Index), c.Criterion.Field, string(c.Criterion.Operator), string(value),
				strconv.Itoa(c.Passed), strconv.Itoa(c.Failed)); err != nil {
				return err
			}
		}
		for _, is := range r.Issues {
			if err := t.Append("!", is.Field, string(is.Code), truncate(is.Message), "", ""); err != nil {
				return err
			}
		}
		t.Footer("", "", "", "matched", strconv.Itoa(r.Count), strconv.Itoa(r.Evaluated))
		return nil
	})
}

func (p Printer) Campaigns(cs []store.Campaign) error {
	return p.print(map[string][]store.Campaign{"campaigns": cs}, func(t *tablewriter.Table) error {
		t.Header("ID", "Name", "Status", "Segment", "Flow", "Start")
		for _, c := range cs {
			if err := t.Append(c.ID, truncate(c.Name), c.Status, c.SegmentID, deref(c.FlowID), startOf(c)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p Printer) Selection(s *audience.Selection) error {
	return p.print(s, func(t *tablewriter.Table) error {
		t.Header("Campaign", "Users Targeted", "Steps", "Status")
		return t.Append(s.CampaignID, strconv.Itoa(s.UsersTargeted), strconv.Itoa(s.Steps), s.Status)
	})
}

// Value prints an arbitrary payload; tables fall back to key/value rows.
func (p Printer) Value(v map[string]any) error {
	return p.print(v, func(t *tablewriter.Table) error {
		t.Header("Key", "Value")
		for k, val := range v {
			if err := t.Append(k, cell(val)); err != nil {
				return err
			}
		}
		return nil
	})
}

func startOf(c store.Campaign) string {
	switch {
	case c.StartTime != nil:
		return c.StartTime.Format(timeLayout)
	case c.StartDate != nil && c.StartTimeOfDay != nil:
		return c.StartDate.Format("2006-01-02") + " " + *c.StartTimeOfDay
	case c.StartDate != nil:
		return c.StartDate.Format("2006-01-02")
	}
	return "-"
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return truncate(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return truncate(string(data))
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) > maxCell {
		return string(r[:maxCell-3]) + "..."
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
