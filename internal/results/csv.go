package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mwiater/vlmbench/internal/util"
)

// CSV column names.
const (
	ColumnTTFT     = "times_to_first_token"
	ColumnTTC      = "times_to_completion"
	ColumnResponse = "assistant_responses"
)

// WriteCSV writes one row per turn to path, replacing any existing file. The
// TTFT column is present only when at least one turn was streamed; turns
// without an observed TTFT leave that cell empty.
func WriteCSV(path string, turns []Turn) error {
	if err := util.EnsureParentDir(path); err != nil {
		return fmt.Errorf("create results directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file %q: %w", path, err)
	}
	defer file.Close()

	withTTFT := AnyStreamed(turns)
	w := csv.NewWriter(file)

	header := []string{ColumnTTC, ColumnResponse}
	if withTTFT {
		header = append([]string{ColumnTTFT}, header...)
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, t := range turns {
		row := []string{FormatSeconds(t.TimeToCompletion), t.Response}
		if withTTFT {
			ttft := ""
			if d, ok := t.TTFT(); ok {
				ttft = FormatSeconds(d)
			}
			row = append([]string{ttft}, row...)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write results file %q: %w", path, err)
	}
	return file.Close()
}

// AnyStreamed reports whether any turn observed a time to first token.
func AnyStreamed(turns []Turn) bool {
	for _, t := range turns {
		if t.Streamed {
			return true
		}
	}
	return false
}

// FormatSeconds renders a duration as seconds with microsecond precision, so
// sub-millisecond timings against local servers stay distinguishable.
func FormatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}
