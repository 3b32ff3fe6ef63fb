package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// parseSeriesSpec parses "<measurement>[,tag=val,...]" — the series
// descriptor shared by the INSERT and QUERY command grammars.
func parseSeriesSpec(spec string) (string, map[string]string, error) {
	parts := strings.Split(spec, ",")
	measurement := parts[0]
	if measurement == "" {
		return "", nil, fmt.Errorf("empty measurement in %q", spec)
	}

	tags := make(map[string]string, len(parts)-1)
	for _, kv := range parts[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return "", nil, fmt.Errorf("malformed tag %q in %q", kv, spec)
		}
		tags[k] = v
	}
	return measurement, tags, nil
}

// parseFieldAssignments parses "<field=val,field=val,...>".
func parseFieldAssignments(spec string) (map[string]float64, error) {
	parts := strings.Split(spec, ",")
	fields := make(map[string]float64, len(parts))
	for _, kv := range parts {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed field assignment %q in %q", kv, spec)
		}
		val, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for field %q: %w", k, err)
		}
		fields[k] = val
	}
	return fields, nil
}

// formatSeriesSpec is parseSeriesSpec's inverse, used to print "# series:
// ..." lines with tags in a stable order.
func formatSeriesSpec(measurement string, tags map[string]string) string {
	if len(tags) == 0 {
		return measurement
	}
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(measurement)
	for _, name := range names {
		b.WriteByte(',')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(tags[name])
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
