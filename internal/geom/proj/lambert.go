package proj

import (
	"math"

	"github.com/paulmach/orb"
)

// Lambert conformal conic with two standard parallels on the GRS80
// ellipsoid, with the RGF93 / Lambert-93 (EPSG:2154) parameters.
const (
	grs80A = 6378137.0
	grs80F = 1 / 298.257222101

	l93Lat0 = 46.5 // latitude of origin
	l93Lon0 = 3.0  // central meridian
	l93Lat1 = 44.0 // first standard parallel
	l93Lat2 = 49.0 // second standard parallel
	l93X0   = 700000.0
	l93Y0   = 6600000.0
)

var l93 = newLambertConic()

type lambertConic struct {
	e    float64
	n    float64
	aF   float64
	rho0 float64
}

func lccM(phi, e float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-e*e*s*s)
}

func lccT(phi, e float64) float64 {
	s := math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-e*s)/(1+e*s), e/2)
}

func newLambertConic() lambertConic {
	e := math.Sqrt(grs80F * (2 - grs80F))

	phi0 := l93Lat0 * math.Pi / 180
	phi1 := l93Lat1 * math.Pi / 180
	phi2 := l93Lat2 * math.Pi / 180

	m1 := lccM(phi1, e)
	m2 := lccM(phi2, e)
	t0 := lccT(phi0, e)
	t1 := lccT(phi1, e)
	t2 := lccT(phi2, e)

	n := (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	f := m1 / (n * math.Pow(t1, n))
	aF := grs80A * f

	return lambertConic{
		e:    e,
		n:    n,
		aF:   aF,
		rho0: aF * math.Pow(t0, n),
	}
}

func wgs84ToLambert93(pt orb.Point) orb.Point {
	lon := pt[0] * math.Pi / 180
	lat := pt[1] * math.Pi / 180

	rho := l93.aF * math.Pow(lccT(lat, l93.e), l93.n)
	theta := l93.n * (lon - l93Lon0*math.Pi/180)

	return orb.Point{
		l93X0 + rho*math.Sin(theta),
		l93Y0 + l93.rho0 - rho*math.Cos(theta),
	}
}
