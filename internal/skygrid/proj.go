package skygrid

import "math"

// Proj is a flat spatial projection about a fixed reference sky position.
// Pixels form a regular grid with square PixSize-degree pixels; the
// longitude offset is scaled by cos(RefLat) so pixels are square on the sky
// near the reference point.
//
// OrigX/OrigY locate pixel (0, 0) on the shared reference pixel plane whose
// origin is the reference position. A cutout of a projection keeps the same
// reference point and pixel size and shifts only the origin, so parent and
// cutout pixel centres coincide exactly. That alignment is what makes
// sub-window stacking well defined.
type Proj struct {
	RefLon  float64 // reference longitude, degrees
	RefLat  float64 // reference latitude, degrees
	PixSize float64 // pixel size, degrees
	NX, NY  int     // grid dimensions, pixels
	OrigX   int     // offset of pixel (0,0) on the reference plane
	OrigY   int
}

// wrapDelta returns the signed difference a-b in degrees wrapped to
// (-180, 180].
func wrapDelta(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}

// SkyToPix converts a sky position to fractional pixel coordinates.
// Pixel (i, j) is centred at coordinates (i, j); it covers
// [i-0.5, i+0.5) x [j-0.5, j+0.5).
func (p Proj) SkyToPix(lon, lat float64) (x, y float64) {
	cosLat := math.Cos(p.RefLat * math.Pi / 180)
	u := wrapDelta(lon, p.RefLon) * cosLat / p.PixSize
	v := (lat - p.RefLat) / p.PixSize
	return u - float64(p.OrigX), v - float64(p.OrigY)
}

// PixToSky converts fractional pixel coordinates back to a sky position.
func (p Proj) PixToSky(x, y float64) (lon, lat float64) {
	cosLat := math.Cos(p.RefLat * math.Pi / 180)
	u := x + float64(p.OrigX)
	v := y + float64(p.OrigY)
	lon = p.RefLon + u*p.PixSize/cosLat
	lat = p.RefLat + v*p.PixSize
	return lon, lat
}

// PixBin returns the integer pixel indices containing the sky position, or
// ok=false when the position falls outside the grid. Positions outside are
// dropped by callers, never clipped into the nearest pixel.
func (p Proj) PixBin(lon, lat float64) (ix, iy int, ok bool) {
	x, y := p.SkyToPix(lon, lat)
	ix = int(math.Floor(x + 0.5))
	iy = int(math.Floor(y + 0.5))
	if ix < 0 || ix >= p.NX || iy < 0 || iy >= p.NY {
		return 0, 0, false
	}
	return ix, iy, true
}

// SolidAngle returns the per-pixel solid angle in steradians. All pixels of
// the flat projection share one value.
func (p Proj) SolidAngle() float64 {
	rad := p.PixSize * math.Pi / 180
	return rad * rad
}

// Separation returns the angular separation in degrees between two sky
// positions, using the small-angle flat approximation consistent with the
// projection itself.
func (p Proj) Separation(lon1, lat1, lon2, lat2 float64) float64 {
	cosLat := math.Cos(p.RefLat * math.Pi / 180)
	du := wrapDelta(lon1, lon2) * cosLat
	dv := lat1 - lat2
	return math.Hypot(du, dv)
}

// Equal reports exact projection equality, including the origin offsets.
func (p Proj) Equal(q Proj) bool { return p == q }

// sameRef reports whether two projections share the reference point and
// pixel size, i.e. live on the same reference pixel plane.
func (p Proj) sameRef(q Proj) bool {
	return p.RefLon == q.RefLon && p.RefLat == q.RefLat && p.PixSize == q.PixSize
}
