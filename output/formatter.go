package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"

	"github.com/penwyp/peakcat/models"
)

// Format is an output rendering.
type Format string

const (
	FormatTable   Format = "table"
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatSummary Format = "summary"
)

var validFormats = []Format{FormatTable, FormatJSON, FormatCSV, FormatSummary}

// ParseFormat validates a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	for _, f := range validFormats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	names := make([]string, len(validFormats))
	for i, f := range validFormats {
		names[i] = string(f)
	}
	return "", fmt.Errorf("invalid output format: %s (valid options: %s)", s, strings.Join(names, ", "))
}

var jsonAPI = sonic.Config{SortMapKeys: true}.Froze()

type styles struct {
	title  lipgloss.Style
	table  lipgloss.Style
	marker lipgloss.Style
	faint  lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		table:  lipgloss.NewStyle().Bold(true),
		marker: lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		faint:  lipgloss.NewStyle().Faint(true),
	}
}

// Formatter renders results for the terminal or for other tools.
type Formatter struct {
	format Format
	color  bool
	styles styles
}

// NewFormatter creates a formatter. Color only affects the table format and
// never touches aligned cells.
func NewFormatter(format Format, color bool) *Formatter {
	return &Formatter{format: format, color: color, styles: defaultStyles()}
}

// Write renders res to w.
func (f *Formatter) Write(w io.Writer, res *models.Result) error {
	switch f.format {
	case FormatTable:
		return f.writeTable(w, res)
	case FormatJSON:
		return WriteJSON(w, res)
	case FormatCSV:
		return writeCSV(w, BucketRows(res))
	case FormatSummary:
		return writeCSV(w, SummaryRows(res))
	default:
		return fmt.Errorf("unsupported output format: %s", f.format)
	}
}

// WriteJSON writes v as indented JSON with sorted map keys.
func WriteJSON(w io.Writer, v interface{}) error {
	data, err := jsonAPI.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}

func (f *Formatter) style(s lipgloss.Style, text string) string {
	if !f.color {
		return text
	}
	return s.Render(text)
}

func (f *Formatter) writeTable(w io.Writer, res *models.Result) error {
	source := string(res.Provenance)
	if res.Stale {
		source += ", stale"
	}
	if res.CacheHit {
		source += ", cached"
	}
	header := fmt.Sprintf("%s (%s)", res.Question, source)
	if _, err := fmt.Fprintln(w, f.style(f.styles.title, header)); err != nil {
		return err
	}
	if !res.FetchedAt.IsZero() {
		fmt.Fprintln(w, f.style(f.styles.faint, "fetched "+res.FetchedAt.UTC().Format(time.RFC3339)))
	}

	for _, name := range res.TableOrder {
		fmt.Fprintln(w)
		fmt.Fprintln(w, f.style(f.styles.table, name))
		if err := f.writeBuckets(w, res.Tables[name]); err != nil {
			return err
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, f.style(f.styles.table, "summary"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range SummaryRows(res)[1:] {
		fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, f.style(f.styles.marker, "* peak bucket"))
	return nil
}

func (f *Formatter) writeBuckets(w io.Writer, buckets []models.Bucket) error {
	var hasPct, hasMean, hasRate bool
	for _, b := range buckets {
		hasPct = hasPct || b.Percentiles != nil
		hasMean = hasMean || b.HasMeasure
		hasRate = hasRate || b.SuccessRate != nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	cols := []string{"", "Key", "Count", "Share"}
	if hasMean {
		cols = append(cols, "Sum", "Mean")
	}
	if hasPct {
		cols = append(cols, "P50", "P95", "Max")
	}
	if hasRate {
		cols = append(cols, "Success")
	}
	fmt.Fprintln(tw, strings.Join(cols, "\t"))

	for _, b := range buckets {
		mark := ""
		if b.IsPeak {
			mark = "*"
		}
		row := []string{mark, b.DisplayName(), strconv.Itoa(b.Count), fmt.Sprintf("%.1f%%", b.Share*100)}
		if hasMean {
			row = append(row, fmt.Sprintf("%.2f", b.Sum), fmt.Sprintf("%.2f", b.Mean))
		}
		if hasPct {
			if p := b.Percentiles; p != nil {
				row = append(row, fmt.Sprintf("%.2f", p.P50), fmt.Sprintf("%.2f", p.P95), fmt.Sprintf("%.2f", p.Max))
			} else {
				row = append(row, "-", "-", "-")
			}
		}
		if hasRate {
			if b.SuccessRate != nil {
				row = append(row, fmt.Sprintf("%.1f%%", *b.SuccessRate*100))
			} else {
				row = append(row, "-")
			}
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}
