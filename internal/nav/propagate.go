package nav

import (
	"math"
	"time"

	"github.com/large-farva/gdoper/internal/geo"
)

const (
	muGPS          = 3.9860050e14    // gravitational constant (m³/s²), IS-GPS-200
	omegaEarth     = 7.2921151467e-5 // earth rotation rate (rad/s)
	keplerTol      = 1e-13
	keplerMaxIter  = 30
	secondsPerWeek = 604800.0
	halfWeek       = secondsPerWeek / 2
)

var gpsEpoch = time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC)

// leapSeconds lists GPS-UTC offsets, newest first.
var leapSeconds = []struct {
	since   time.Time
	seconds int
}{
	{time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC), 18},
	{time.Date(2015, 7, 1, 0, 0, 0, 0, time.UTC), 17},
	{time.Date(2012, 7, 1, 0, 0, 0, 0, time.UTC), 16},
	{time.Date(2009, 1, 1, 0, 0, 0, 0, time.UTC), 15},
	{time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC), 14},
}

// GPSTime converts a UTC instant to the GPS time scale.
func GPSTime(utc time.Time) time.Time {
	utc = utc.UTC()
	for _, l := range leapSeconds {
		if !utc.Before(l.since) {
			return utc.Add(time.Duration(l.seconds) * time.Second)
		}
	}
	return utc.Add(13 * time.Second)
}

// WeekSeconds returns the seconds elapsed since the start of the GPS week
// containing the GPS-time instant gps.
func WeekSeconds(gps time.Time) float64 {
	s := math.Mod(gps.Sub(gpsEpoch).Seconds(), secondsPerWeek)
	if s < 0 {
		s += secondsPerWeek
	}
	return s
}

// Propagate evaluates the broadcast orbit of rec at the UTC instant t and
// returns the satellite antenna phase center in ECEF meters.
func Propagate(rec Record, t time.Time) geo.Vec3 {
	tk := WeekSeconds(GPSTime(t)) - rec.Toe
	switch {
	case tk > halfWeek:
		tk -= secondsPerWeek
	case tk < -halfWeek:
		tk += secondsPerWeek
	}

	a := rec.SqrtA * rec.SqrtA
	m := rec.M0 + (math.Sqrt(muGPS/(a*a*a))+rec.DeltaN)*tk

	// Kepler's equation by Newton iteration.
	e := m
	prev := 0.0
	for n := 0; math.Abs(e-prev) > keplerTol && n < keplerMaxIter; n++ {
		prev = e
		e -= (e - rec.Ecc*math.Sin(e) - m) / (1.0 - rec.Ecc*math.Cos(e))
	}
	sinE, cosE := math.Sin(e), math.Cos(e)

	u := math.Atan2(math.Sqrt(1.0-rec.Ecc*rec.Ecc)*sinE, cosE-rec.Ecc) + rec.Omega
	r := a * (1.0 - rec.Ecc*cosE)
	i := rec.I0 + rec.IDot*tk

	sin2u, cos2u := math.Sin(2*u), math.Cos(2*u)
	u += rec.Cus*sin2u + rec.Cuc*cos2u
	r += rec.Crs*sin2u + rec.Crc*cos2u
	i += rec.Cis*sin2u + rec.Cic*cos2u

	x := r * math.Cos(u)
	y := r * math.Sin(u)

	o := rec.Omega0 + (rec.OmegaDot-omegaEarth)*tk - omegaEarth*rec.Toe
	sinO, cosO := math.Sin(o), math.Cos(o)
	cosI := math.Cos(i)

	return geo.Vec3{
		x*cosO - y*cosI*sinO,
		x*sinO + y*cosI*cosO,
		y * math.Sin(i),
	}
}
