// Package ledger persists the estimated API cost across sessions.
//
// cost.json maps "YYYYMM" to the USD spent that month. Updates are a
// read-merge-write done under an advisory lock on a sibling ".lock" file so
// concurrent cg processes do not lose each other's totals.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/apexion-ai/cg/internal/paths"
)

// MonthFormat is the key layout of cost.json.
const MonthFormat = "200601"

// MonthTotal is the cost recorded for one month.
type MonthTotal struct {
	Month string
	Cost  float64
}

// Ledger is the cost.json file.
type Ledger struct {
	path string
	now  func() time.Time
}

// DefaultPath returns cost.json in the config directory.
func DefaultPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cost.json"), nil
}

// New returns a ledger stored at path. The file is created on the first Add.
func New(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Exists reports whether anything has been recorded yet.
func (l *Ledger) Exists() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Load reads the per-month totals. A missing file yields an empty map.
func (l *Ledger) Load() (map[string]float64, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]float64{}, nil
		}
		return nil, fmt.Errorf("read cost ledger: %w", err)
	}
	months := map[string]float64{}
	if len(data) == 0 {
		return months, nil
	}
	if err := json.Unmarshal(data, &months); err != nil {
		return nil, fmt.Errorf("invalid cost ledger %s: %w", l.path, err)
	}
	return months, nil
}

// Totals returns the per-month totals sorted by month.
func (l *Ledger) Totals() ([]MonthTotal, error) {
	months, err := l.Load()
	if err != nil {
		return nil, err
	}
	out := make([]MonthTotal, 0, len(months))
	for m, c := range months {
		out = append(out, MonthTotal{Month: m, Cost: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

// Add merges cost into the current month and returns the new month total.
func (l *Ledger) Add(cost float64) (float64, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return 0, fmt.Errorf("create ledger directory: %w", err)
	}

	unlock, err := lockFile(l.path + ".lock")
	if err != nil {
		return 0, fmt.Errorf("lock cost ledger: %w", err)
	}
	defer unlock()

	months, err := l.Load()
	if err != nil {
		return 0, err
	}
	month := l.now().Format(MonthFormat)
	total := decimal.NewFromFloat(months[month]).Add(decimal.NewFromFloat(cost))
	months[month] = total.InexactFloat64()

	if err := writeAtomic(l.path, months); err != nil {
		return 0, err
	}
	slog.Debug("cost ledger updated", slog.String("month", month), slog.Float64("total", months[month]))
	return months[month], nil
}

// writeAtomic replaces path with the JSON encoding of months. encoding/json
// writes map keys in sorted order.
func writeAtomic(path string, months map[string]float64) error {
	data, err := json.Marshal(months)
	if err != nil {
		return fmt.Errorf("marshal cost ledger: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cost-*.json")
	if err != nil {
		return fmt.Errorf("write cost ledger: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cost ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write cost ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace cost ledger: %w", err)
	}
	return nil
}
