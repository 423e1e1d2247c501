package progress

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// WorkerSample is one snapshot of pool utilization, recorded on each
// progress refresh.
type WorkerSample struct {
	Time        time.Time
	Outstanding int
	Parallelism int
	Percentage  float64
}

// UsageRecorder accumulates worker-usage samples in memory; WriteCSV is
// called once, at shutdown, rather than appending on every sample.
type UsageRecorder struct {
	mu      sync.Mutex
	samples []WorkerSample
}

func NewUsageRecorder() *UsageRecorder {
	return &UsageRecorder{}
}

// Sample records pool utilization at t. Percentage is 100*outstanding/parallelism,
// or 0 when parallelism is 0 (nothing to divide by, not worth a panic).
func (u *UsageRecorder) Sample(t time.Time, outstanding, parallelism int) {
	pct := 0.0
	if parallelism > 0 {
		pct = float64(outstanding) / float64(parallelism) * 100
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.samples = append(u.samples, WorkerSample{
		Time:        t,
		Outstanding: outstanding,
		Parallelism: parallelism,
		Percentage:  pct,
	})
}

// WriteCSV writes every recorded sample to path using the standard
// encoding/csv idiom: csv.NewWriter, Write per row, Flush, then check
// Error.
func (u *UsageRecorder) WriteCSV(path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("progress: creating worker usage csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"time", "outstanding", "parallelism", "percentage"}); err != nil {
		return fmt.Errorf("progress: writing worker usage header: %w", err)
	}
	for _, s := range u.samples {
		row := []string{
			s.Time.Format(time.RFC3339),
			strconv.Itoa(s.Outstanding),
			strconv.Itoa(s.Parallelism),
			strconv.FormatFloat(s.Percentage, 'f', 2, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("progress: writing worker usage row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
