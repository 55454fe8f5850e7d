// Package fov decides which satellites a receiver is considered to see.
package fov

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/large-farva/gdoper/internal/geo"
	"github.com/large-farva/gdoper/internal/posdata"
)

// Strategy names accepted by ByName.
const (
	ViewMatchName   = "view-match"
	HorizonMaskName = "horizon-mask"
)

const (
	// NominalOrbitRadius is the GPS orbit radius used by the horizon mask (m).
	NominalOrbitRadius = 26600000.0
	// DefaultMaskDeg is the horizon mask elevation in degrees.
	DefaultMaskDeg = 5.0
)

// Selector picks the in-view subset of candidate satellites.
type Selector interface {
	Name() string
	RequiredChannels() []posdata.Channel
	// Select returns the satellites in view from rx. target is the count the
	// receiver reported; strategies may ignore it.
	Select(rx geo.LLA, candidates map[string]geo.Vec3, target int) []string
}

// ByName builds the selector registered under name.
func ByName(name string, maskDeg float64) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ViewMatchName:
		return ViewMatch{}, nil
	case HorizonMaskName:
		return HorizonMask{MaskDeg: maskDeg}, nil
	default:
		return nil, fmt.Errorf("unknown fov strategy %q", name)
	}
}

// ViewMatch assumes the receiver's reported count is ground truth and keeps
// the target satellites whose direction from the Earth's center is most
// nearly parallel to the receiver's, by absolute dot product.
type ViewMatch struct{}

func (ViewMatch) Name() string { return ViewMatchName }

func (ViewMatch) RequiredChannels() []posdata.Channel {
	return []posdata.Channel{posdata.Latitude, posdata.Longitude, posdata.Altitude, posdata.UTC, posdata.Visible}
}

func (ViewMatch) Select(rx geo.LLA, candidates map[string]geo.Vec3, target int) []string {
	u := rx.ECEF().Unit()

	type ranked struct {
		id  string
		dot float64
	}
	all := make([]ranked, 0, len(candidates))
	for id, p := range candidates {
		all = append(all, ranked{id: id, dot: math.Abs(u.Dot(p.Unit()))})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].dot != all[j].dot {
			return all[i].dot > all[j].dot
		}
		return all[i].id < all[j].id
	})

	if target < 0 {
		target = 0
	}
	if target > len(all) {
		target = len(all)
	}
	out := make([]string, target)
	for i := range out {
		out[i] = all[i].id
	}
	return out
}

// HorizonMask treats a satellite as visible when the angle between its
// geocentric direction and the receiver's is small enough that it sits above
// MaskDeg of elevation on a sphere of NominalOrbitRadius.
type HorizonMask struct {
	MaskDeg float64
}

func (HorizonMask) Name() string { return HorizonMaskName }

func (HorizonMask) RequiredChannels() []posdata.Channel {
	return []posdata.Channel{posdata.Latitude, posdata.Longitude, posdata.Altitude, posdata.UTC}
}

// Threshold is the minimum unit-vector dot product for a receiver at rx: the
// cosine of the geocentric angle between the receiver and the point where a
// ray leaving it at MaskDeg elevation meets the orbit sphere.
func (h HorizonMask) Threshold(rx geo.LLA) float64 {
	ma := h.MaskDeg * math.Pi / 180

	// Law of sines in the triangle formed by the Earth's center, the
	// receiver and that point; the angle at the receiver is ma + pi/2.
	ta := (math.Pi/2 - ma) - math.Asin(math.Cos(ma)/NominalOrbitRadius*rx.ECEF().Norm())
	return math.Cos(ta)
}

func (h HorizonMask) Select(rx geo.LLA, candidates map[string]geo.Vec3, _ int) []string {
	nu := rx.ECEF().Unit()
	limit := h.Threshold(rx)

	var out []string
	for id, p := range candidates {
		if nu.Dot(p.Unit()) >= limit {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
