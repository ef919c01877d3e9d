package skygrid

import (
	"errors"
	"math"
	"testing"
)

func testProj(nx, ny int) Proj {
	return Proj{
		RefLon:  83.63,
		RefLat:  22.01,
		PixSize: 0.1,
		NX:      nx,
		NY:      ny,
		OrigX:   -nx / 2,
		OrigY:   -ny / 2,
	}
}

func TestGeomIdxLayout(t *testing.T) {
	ax, _ := NewAxis("energy", "TeV", []float64{1, 2, 4})
	g, err := New(testProj(3, 2), ax)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Axis-major with spatial fastest: idx = ie*NPix + iy*NX + ix.
	cases := []struct {
		ix, iy, ie int
		want       int
	}{
		{0, 0, 0, 0},
		{2, 0, 0, 2},
		{0, 1, 0, 3},
		{0, 0, 1, 6},
		{2, 1, 1, 11},
	}
	for _, tc := range cases {
		if got := g.Idx(tc.ix, tc.iy, tc.ie); got != tc.want {
			t.Errorf("Idx(%d,%d,%d) = %d, want %d", tc.ix, tc.iy, tc.ie, got, tc.want)
		}
	}
	if g.NBins() != 12 {
		t.Errorf("NBins = %d, want 12", g.NBins())
	}
}

func TestProjRoundTrip(t *testing.T) {
	p := testProj(25, 25)
	for _, pos := range [][2]float64{{83.63, 22.01}, {84.1, 21.6}, {83.2, 22.5}} {
		x, y := p.SkyToPix(pos[0], pos[1])
		lon, lat := p.PixToSky(x, y)
		if math.Abs(lon-pos[0]) > 1e-9 || math.Abs(lat-pos[1]) > 1e-9 {
			t.Errorf("round trip (%g, %g) -> (%g, %g)", pos[0], pos[1], lon, lat)
		}
	}
}

func TestPixBinDropsOutside(t *testing.T) {
	p := testProj(5, 5)
	if _, _, ok := p.PixBin(90, 22.01); ok {
		t.Error("position far outside the grid was binned")
	}
	ix, iy, ok := p.PixBin(83.63, 22.01)
	if !ok {
		t.Fatal("reference position not binned")
	}
	if ix != 2 || iy != 2 {
		t.Errorf("reference position in pixel (%d,%d), want centre (2,2)", ix, iy)
	}
}

func TestCutoutWindowIn(t *testing.T) {
	ax, _ := NewAxis("energy", "TeV", []float64{1, 2, 4})
	target, err := New(testProj(25, 25), ax)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cut, err := target.Cutout(83.8, 22.1, 7, 7)
	if err != nil {
		t.Fatalf("Cutout: %v", err)
	}
	offX, offY, err := cut.WindowIn(target)
	if err != nil {
		t.Fatalf("WindowIn: %v", err)
	}
	if offX < 0 || offY < 0 || offX+7 > 25 || offY+7 > 25 {
		t.Errorf("window offset (%d,%d) outside target", offX, offY)
	}

	// Pixel (0,0) of the cutout and pixel (offX,offY) of the target are the
	// same sky position: the cutout lives on the shared reference plane.
	lonC, latC := cut.Proj().PixToSky(0, 0)
	lonT, latT := target.Proj().PixToSky(float64(offX), float64(offY))
	if math.Abs(lonC-lonT) > 1e-12 || math.Abs(latC-latT) > 1e-12 {
		t.Errorf("cutout origin (%g,%g) != target window origin (%g,%g)", lonC, latC, lonT, latT)
	}
}

func TestWindowInRejectsMismatch(t *testing.T) {
	ax, _ := NewAxis("energy", "TeV", []float64{1, 2, 4})
	axOther, _ := NewAxis("energy", "TeV", []float64{1, 3, 9})
	target, _ := New(testProj(25, 25), ax)

	// Different axes.
	cut, _ := target.Cutout(83.63, 22.01, 5, 5)
	other, _ := cut.WithAxes(axOther)
	if _, _, err := other.WindowIn(target); err == nil {
		t.Error("WindowIn accepted mismatched axes")
	}

	// Different pixel size = different reference plane.
	p := testProj(5, 5)
	p.PixSize = 0.05
	fine, _ := New(p, ax)
	var mismatch *MismatchError
	if _, _, err := fine.WindowIn(target); !errors.As(err, &mismatch) {
		t.Errorf("WindowIn error = %v, want MismatchError", err)
	}

	// Window extending past the footprint.
	far, err := target.Cutout(83.63, 22.01, 30, 30)
	if err != nil {
		t.Fatalf("Cutout: %v", err)
	}
	if _, _, err := far.WindowIn(target); err == nil {
		t.Error("WindowIn accepted uncontained footprint")
	}
}

func TestCompatible(t *testing.T) {
	ax, _ := NewAxis("energy", "TeV", []float64{1, 2, 4})
	a, _ := New(testProj(5, 5), ax)
	b, _ := New(testProj(5, 5), ax)
	if err := a.Compatible(b); err != nil {
		t.Errorf("identical geometries incompatible: %v", err)
	}

	c, _ := New(testProj(6, 5), ax)
	var mismatch *MismatchError
	if err := a.Compatible(c); !errors.As(err, &mismatch) {
		t.Errorf("Compatible error = %v, want MismatchError", err)
	}
	if err := a.Compatible(nil); err == nil {
		t.Error("nil geometry compatible")
	}
}
