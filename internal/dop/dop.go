// Package dop computes dilution of precision from receiver and satellite
// geometry.
package dop

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/large-farva/gdoper/internal/geo"
)

// MinSatellites is the smallest set that can fix position and clock.
const MinSatellites = 4

var (
	ErrInsufficientGeometry = errors.New("insufficient geometry")
	ErrSingularGeometry     = errors.New("singular geometry")
)

// Result holds the metrics for one instant.
type Result struct {
	HDOP, VDOP, GDOP float64
}

// Geometry builds the line-of-sight matrix: one row per satellite holding the
// negated unit vector from receiver to satellite and a clock column of ones.
func Geometry(rx geo.Vec3, sats []geo.Vec3) *mat.Dense {
	a := mat.NewDense(len(sats), 4, nil)
	for i, s := range sats {
		d := s.Sub(rx)
		rho := d.Norm()
		a.SetRow(i, []float64{-d[0] / rho, -d[1] / rho, -d[2] / rho, 1})
	}
	return a
}

// Cofactor returns (AᵀA)⁻¹ for the geometry of rx and sats.
func Cofactor(rx geo.Vec3, sats []geo.Vec3) (*mat.Dense, error) {
	if len(sats) < MinSatellites {
		return nil, fmt.Errorf("%w: %d satellites in view, need %d", ErrInsufficientGeometry, len(sats), MinSatellites)
	}
	for _, s := range sats {
		if s.Sub(rx).Norm() == 0 {
			return nil, fmt.Errorf("%w: satellite at receiver position", ErrSingularGeometry)
		}
	}

	a := Geometry(rx, sats)
	var n mat.Dense
	n.Mul(a.T(), a)

	var q mat.Dense
	if err := q.Inverse(&n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularGeometry, err)
	}
	for i := 0; i < 4; i++ {
		if v := q.At(i, i); math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("%w: cofactor diagonal %d is %g", ErrSingularGeometry, i, v)
		}
	}
	return &q, nil
}

// Compute returns HDOP, VDOP and GDOP. HDOP is sqrt(q0²+q1²) and VDOP is q2
// taken from the cofactor diagonal; GDOP is the square root of its trace.
func Compute(rx geo.Vec3, sats []geo.Vec3) (Result, error) {
	q, err := Cofactor(rx, sats)
	if err != nil {
		return Result{}, err
	}

	q0, q1, q2, q3 := q.At(0, 0), q.At(1, 1), q.At(2, 2), q.At(3, 3)
	return Result{
		HDOP: math.Sqrt(q0*q0 + q1*q1),
		VDOP: q2,
		GDOP: math.Sqrt(q0 + q1 + q2 + q3),
	}, nil
}
