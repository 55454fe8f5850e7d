package pipeline

import (
	"time"

	"github.com/large-farva/gdoper/internal/posdata"
)

// Sample thins samples to one row per period. The watermark starts one
// period before the first row and advances by exactly one period per emitted
// row, so the grid stays anchored to the first timestamp and each grid
// instant takes the first row at or after it.
func Sample(samples []posdata.Sample, period time.Duration) []posdata.Sample {
	if len(samples) == 0 {
		return nil
	}

	var out []posdata.Sample
	mark := samples[0].Time.Add(-period)
	for _, s := range samples {
		if s.Time.Sub(mark) >= period {
			out = append(out, s)
			mark = mark.Add(period)
		}
	}
	return out
}
