// Package metrics exposes counters for the policy engine. qgate runs are
// short-lived processes, so instead of serving a scrape endpoint each run
// merges its counters into a textfile in Prometheus text exposition
// format, suitable for the node-exporter textfile collector. Flush sums
// the process's counters onto whatever the file already holds, so values
// accumulate across runs.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	// DefaultDir is the project-relative directory holding the textfile.
	DefaultDir = ".qgate"

	// Filename is the exposition textfile written by Flush.
	Filename = "metrics.prom"
)

var registry = prometheus.NewRegistry()

var (
	// Resolutions counts completed Resolve calls.
	Resolutions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qgate_resolutions_total",
		Help: "Number of policy resolutions performed.",
	})

	// CriticalViolations counts policies caught attempting to exempt a
	// critical gate.
	CriticalViolations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qgate_critical_violations_total",
		Help: "Number of critical-gate exemption attempts overridden by the guard.",
	})

	// MatchWarnings counts non-fatal matcher warnings.
	MatchWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qgate_match_warnings_total",
		Help: "Number of non-fatal pattern matching warnings.",
	})

	// Bypasses counts recorded emergency bypasses.
	Bypasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qgate_bypasses_total",
		Help: "Number of emergency bypasses recorded.",
	})

	// BypassAlerts counts abuse alerts raised by the tracker.
	BypassAlerts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qgate_bypass_alerts_total",
		Help: "Number of bypass abuse alerts raised.",
	})
)

func init() {
	registry.MustRegister(Resolutions, CriticalViolations, MatchWarnings, Bypasses, BypassAlerts)
}

// Render returns the process's counters in text exposition format.
func Render() (string, error) {
	families, err := registry.Gather()
	if err != nil {
		return "", err
	}
	return encode(families)
}

// Flush merges the process's counters into the textfile under dir and
// rewrites it atomically. Counter values sum onto the persisted ones, so
// a sequence of short-lived runs accumulates instead of resetting.
func Flush(dir string) error {
	families, err := registry.Gather()
	if err != nil {
		return err
	}

	path := filepath.Join(dir, Filename)
	prev, err := readFamilies(path)
	if err != nil {
		return err
	}
	mergeCounters(families, prev)

	text, err := encode(families)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-metrics-")
	if err != nil {
		return fmt.Errorf("create temp metrics file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()        //nolint:errcheck // cleanup in error path
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("close metrics file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		return fmt.Errorf("replace metrics file: %w", err)
	}
	return nil
}

// Read returns the persisted textfile under dir, or the process's own
// rendering when nothing has been flushed yet.
func Read(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if os.IsNotExist(err) {
		return Render()
	}
	if err != nil {
		return "", fmt.Errorf("read metrics file: %w", err)
	}
	return string(data), nil
}

// readFamilies parses the persisted textfile. A missing file is an empty
// history; a corrupt file restarts the counters rather than wedging every
// subsequent command.
func readFamilies(path string) (map[string]*dto.MetricFamily, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return nil, nil
	}
	return families, nil
}

// mergeCounters sums persisted counter values onto the freshly gathered
// families. Only counters merge; anything else passes through unchanged.
func mergeCounters(fresh []*dto.MetricFamily, prev map[string]*dto.MetricFamily) {
	for _, fam := range fresh {
		if fam.GetType() != dto.MetricType_COUNTER || len(fam.Metric) == 0 {
			continue
		}
		pf, ok := prev[fam.GetName()]
		if !ok || len(pf.Metric) == 0 {
			continue
		}
		c := fam.Metric[0].GetCounter()
		if c == nil || c.Value == nil {
			continue
		}
		*c.Value += pf.Metric[0].GetCounter().GetValue()
	}
}

func encode(families []*dto.MetricFamily) (string, error) {
	var b strings.Builder
	enc := expfmt.NewEncoder(&b, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}
