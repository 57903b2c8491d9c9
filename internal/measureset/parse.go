package measureset

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// BrowserProcesses are the only processes metrics are emitted for.
var BrowserProcesses = []string{
	"browser.exe",
	"brodefault.exe",
	"chrome.exe",
	"chromium.exe",
	"opera.exe",
	"firefox.exe",
	"msedge.exe",
}

// IsBrowserProcess reports whether a normalized process name is allow-listed.
func IsBrowserProcess(name string) bool {
	for _, b := range BrowserProcesses {
		if b == name {
			return true
		}
	}
	return false
}

// SplitCSVRow splits one CSV line, keeping commas inside quoted fields.
func SplitCSVRow(row string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(row))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to split row %q: %w", row, err)
	}
	return fields, nil
}

// ProcessName returns the lower-cased, trimmed text before the first "(".
// Rows without a "(" are placeholders such as "Unknown" and report false.
func ProcessName(field string) (string, bool) {
	i := strings.IndexByte(field, '(')
	if i < 0 {
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(field[:i])), true
}

// ParseDecimal parses numbers exported with either "," or "." as decimal
// separator. When both appear, the last one is the decimal separator; a
// separator that repeats is a grouping separator.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	comma := strings.LastIndexByte(s, ',')
	dot := strings.LastIndexByte(s, '.')

	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0:
		if strings.Count(s, ".") > 1 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	return decimal.NewFromString(s)
}

// FormatDecimal renders a metric value.
func FormatDecimal(d decimal.Decimal) string {
	return d.Round(6).String()
}

// column describes which fields of a row hold the process name and the value.
type column struct {
	name  int
	value int
	// divisor converts the exported unit to the reported one; zero means none.
	divisor int64
}

// totals sums values by process name.
type totals map[string]decimal.Decimal

// aggregate sums col.value by process name over rows. Rows that cannot be
// split, have too few fields, carry no "(" in the name field or hold a
// non-numeric value are skipped.
func aggregate(rows []string, col column) totals {
	out := make(totals)
	for _, row := range rows {
		fields, err := SplitCSVRow(row)
		if err != nil || len(fields) <= col.name || len(fields) <= col.value {
			continue
		}
		name, ok := ProcessName(fields[col.name])
		if !ok {
			continue
		}
		value, err := ParseDecimal(fields[col.value])
		if err != nil {
			continue
		}
		if col.divisor != 0 {
			value = value.Div(decimal.NewFromInt(col.divisor))
		}
		out[name] = out[name].Add(value)
	}
	return out
}

// sum adds every bucket.
func (t totals) sum() decimal.Decimal {
	total := decimal.Zero
	for _, name := range t.names() {
		total = total.Add(t[name])
	}
	return total
}

func (t totals) names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// emit writes one metric per allow-listed browser, naming it with format.
func (t totals) emit(metrics Metrics, format string) {
	for _, name := range t.names() {
		if !IsBrowserProcess(name) {
			continue
		}
		metrics[fmt.Sprintf(format, name)] = FormatDecimal(t[name])
	}
}
