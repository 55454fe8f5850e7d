// Package calc holds the per-row calculations a run can queue.
package calc

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/large-farva/gdoper/internal/dop"
	"github.com/large-farva/gdoper/internal/geo"
	"github.com/large-farva/gdoper/internal/posdata"
)

// Names accepted by ByName.
const (
	DOPName    = "dop"
	InViewName = "sats-in-view"
)

// InViewColumn is the output column of InView.
const InViewColumn = "calculated_sats_LOS"

// Input is what a calculation sees for one sampled row.
type Input struct {
	Time       time.Time
	Receiver   geo.LLA
	Satellites map[string]geo.Vec3 // in-view satellites, ECEF
}

// SortedSatellites returns the in-view positions ordered by satellite id.
func (in Input) SortedSatellites() []geo.Vec3 {
	ids := make([]string, 0, len(in.Satellites))
	for id := range in.Satellites {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]geo.Vec3, len(ids))
	for i, id := range ids {
		out[i] = in.Satellites[id]
	}
	return out
}

// Calculation produces one value per column for each sampled row.
type Calculation interface {
	Name() string
	Columns() []string
	RequiredChannels() []posdata.Channel
	Compute(in Input) ([]float64, error)
}

// ByName builds the calculations listed in names, dropping repeats.
func ByName(names []string) ([]Calculation, error) {
	var out []Calculation
	seen := make(map[string]bool)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if seen[n] {
			continue
		}
		seen[n] = true

		switch n {
		case DOPName:
			out = append(out, DOP{})
		case InViewName:
			out = append(out, InView{})
		default:
			return nil, fmt.Errorf("unknown calculation %q", n)
		}
	}
	return out, nil
}

// DOP reports HDOP, VDOP and GDOP of the in-view geometry.
type DOP struct{}

func (DOP) Name() string { return DOPName }

func (DOP) Columns() []string { return []string{"HDOP", "VDOP", "GDOP"} }

func (DOP) RequiredChannels() []posdata.Channel {
	return []posdata.Channel{posdata.UTC, posdata.Latitude, posdata.Longitude, posdata.Altitude, posdata.Timestamp}
}

func (DOP) Compute(in Input) ([]float64, error) {
	r, err := dop.Compute(in.Receiver.ECEF(), in.SortedSatellites())
	if err != nil {
		return nil, err
	}
	return []float64{r.HDOP, r.VDOP, r.GDOP}, nil
}

// InView reports how many satellites the selector kept.
type InView struct{}

func (InView) Name() string { return InViewName }

func (InView) Columns() []string { return []string{InViewColumn} }

func (InView) RequiredChannels() []posdata.Channel {
	return []posdata.Channel{posdata.UTC}
}

func (InView) Compute(in Input) ([]float64, error) {
	return []float64{float64(len(in.Satellites))}, nil
}
