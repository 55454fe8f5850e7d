// Package nav reads GPS broadcast navigation files and turns their orbital
// elements into satellite ECEF positions.
package nav

import (
	"fmt"
	"sort"
	"time"
)

// MaxPRN is the highest GPS space-vehicle slot.
const MaxPRN = 32

// SatelliteID formats a GPS PRN as the constellation identifier used
// throughout the pipeline (G01..G32).
func SatelliteID(prn int) string {
	return fmt.Sprintf("G%02d", prn)
}

// SatelliteIDs returns every identifier of the constellation in PRN order.
func SatelliteIDs() []string {
	ids := make([]string, 0, MaxPRN)
	for prn := 1; prn <= MaxPRN; prn++ {
		ids = append(ids, SatelliteID(prn))
	}
	return ids
}

// Record is one broadcast ephemeris block for a single satellite. Toc is the
// epoch printed on the record's first line, in GPS time, and is the time the
// record is matched against when selecting the nearest one.
type Record struct {
	PRN int
	Toc time.Time

	Af0, Af1, Af2 float64 // clock bias (s), drift (s/s), drift rate (s/s²)

	IODE   float64
	Crs    float64
	DeltaN float64
	M0     float64

	Cuc   float64
	Ecc   float64
	Cus   float64
	SqrtA float64

	Toe    float64 // seconds into GPS week
	Cic    float64
	Omega0 float64
	Cis    float64

	I0       float64
	Crc      float64
	Omega    float64
	OmegaDot float64

	IDot   float64
	L2Code float64
	Week   float64
	L2P    float64

	Accuracy float64
	Health   float64
	TGD      float64
	IODC     float64

	TransmitTime float64
	FitInterval  float64
}

// ID returns the constellation identifier of the record's satellite.
func (r Record) ID() string {
	return SatelliteID(r.PRN)
}

// File is a decoded navigation file.
type File struct {
	Version float64
	Records []Record
}

// BySatellite groups the records per satellite identifier, each group sorted
// by Toc ascending.
func (f *File) BySatellite() map[string][]Record {
	out := make(map[string][]Record)
	for _, r := range f.Records {
		out[r.ID()] = append(out[r.ID()], r)
	}
	for _, recs := range out {
		sort.SliceStable(recs, func(i, j int) bool {
			return recs[i].Toc.Before(recs[j].Toc)
		})
	}
	return out
}

// fields returns the 29 numeric fields in file order: three clock terms from
// the epoch line, then seven broadcast orbit lines.
func (r *Record) fields() []*float64 {
	return []*float64{
		&r.Af0, &r.Af1, &r.Af2,
		&r.IODE, &r.Crs, &r.DeltaN, &r.M0,
		&r.Cuc, &r.Ecc, &r.Cus, &r.SqrtA,
		&r.Toe, &r.Cic, &r.Omega0, &r.Cis,
		&r.I0, &r.Crc, &r.Omega, &r.OmegaDot,
		&r.IDot, &r.L2Code, &r.Week, &r.L2P,
		&r.Accuracy, &r.Health, &r.TGD, &r.IODC,
		&r.TransmitTime, &r.FitInterval,
	}
}
