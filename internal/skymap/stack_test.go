package skymap_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/skystack/internal/skygrid"
	"github.com/banshee-data/skystack/internal/skymap"
	"github.com/banshee-data/skystack/internal/testutil"
)

func smallGeoms(t *testing.T) (*skygrid.Geom, *skygrid.Geom) {
	t.Helper()
	return testutil.Geoms(testutil.GeomParams{
		RefLon: 83.63, RefLat: 22.01, PixSize: 0.1,
		NX: 9, NY: 9,
		ELo: 0.5, EHi: 20, NE: 2, NETrue: 3,
	})
}

// scale multiplies every array of a testutil dataset so two contributions
// are distinguishable. Counts stay integral.
func scale(ds *skymap.Dataset, f float64) {
	for i := range ds.Counts {
		ds.Counts[i] = math.Round(ds.Counts[i] * f)
		ds.Background[i] *= f
	}
	for i := range ds.Exposure {
		ds.Exposure[i] *= f
	}
	for i := range ds.EDisp {
		ds.EDisp[i] *= 0.5
	}
}

func TestStackOrderIndependence(t *testing.T) {
	geom, geomTrue := smallGeoms(t)

	build := func() (*skymap.Dataset, *skymap.Dataset) {
		a := testutil.Dataset("a", geom, geomTrue)
		b := testutil.Dataset("b", geom, geomTrue)
		scale(b, 3)
		return a, b
	}

	a1, b1 := build()
	t1 := mustNew(t, "t1", geom, geomTrue)
	s1 := skymap.NewStacker(t1)
	if err := s1.Stack(a1); err != nil {
		t.Fatalf("stack a: %v", err)
	}
	if err := s1.Stack(b1); err != nil {
		t.Fatalf("stack b: %v", err)
	}

	a2, b2 := build()
	t2 := mustNew(t, "t2", geom, geomTrue)
	s2 := skymap.NewStacker(t2)
	if err := s2.Stack(b2); err != nil {
		t.Fatalf("stack b: %v", err)
	}
	if err := s2.Stack(a2); err != nil {
		t.Fatalf("stack a: %v", err)
	}

	approx := cmpopts.EquateApprox(1e-9, 1e-12)
	if diff := cmp.Diff(t1.Counts, t2.Counts); diff != "" {
		t.Errorf("counts differ by order (-ab +ba):\n%s", diff)
	}
	if diff := cmp.Diff(t1.Exposure, t2.Exposure); diff != "" {
		t.Errorf("exposure differs by order:\n%s", diff)
	}
	if diff := cmp.Diff(t1.EDisp, t2.EDisp, approx); diff != "" {
		t.Errorf("energy dispersion differs by order:\n%s", diff)
	}
}

func TestStackWeightedResponseAverage(t *testing.T) {
	geom, geomTrue := smallGeoms(t)
	target := mustNew(t, "target", geom, geomTrue)
	s := skymap.NewStacker(target)

	a := testutil.Dataset("a", geom, geomTrue)
	b := testutil.Dataset("b", geom, geomTrue)
	setEDisp(a, 0.2)
	setEDisp(b, 0.8)
	// b carries twice the exposure of a.
	for i := range b.Exposure {
		b.Exposure[i] = 2 * a.Exposure[i]
	}

	if err := s.Stack(a); err != nil {
		t.Fatalf("stack a: %v", err)
	}
	if err := s.Stack(b); err != nil {
		t.Fatalf("stack b: %v", err)
	}

	// (0.2*e + 0.8*2e) / 3e = 0.6
	for i, v := range target.EDisp {
		if math.Abs(v-0.6) > 1e-9 {
			t.Fatalf("EDisp[%d] = %g, want 0.6", i, v)
		}
	}
}

func TestStackZeroExposureKeepsPrior(t *testing.T) {
	geom, geomTrue := smallGeoms(t)
	target := mustNew(t, "target", geom, geomTrue)
	s := skymap.NewStacker(target)

	a := testutil.Dataset("a", geom, geomTrue)
	setEDisp(a, 0.4)
	if err := s.Stack(a); err != nil {
		t.Fatalf("stack a: %v", err)
	}
	before := append([]float64(nil), target.EDisp...)

	// A contribution with no exposure must not disturb the averaged response.
	empty := testutil.Dataset("empty", geom, geomTrue)
	setEDisp(empty, 0.9)
	for i := range empty.Exposure {
		empty.Exposure[i] = 0
	}
	if err := s.Stack(empty); err != nil {
		t.Fatalf("stack empty: %v", err)
	}

	if diff := cmp.Diff(before, target.EDisp); diff != "" {
		t.Errorf("zero-exposure contribution changed the response:\n%s", diff)
	}
}

func TestStackSubWindow(t *testing.T) {
	geom, geomTrue := smallGeoms(t)
	target := mustNew(t, "target", geom, geomTrue)
	s := skymap.NewStacker(target)

	cutGeom, err := geom.Cutout(83.8, 22.1, 3, 3)
	if err != nil {
		t.Fatalf("Cutout: %v", err)
	}
	cutTrue, err := cutGeom.WithAxes(geomTrue.Axes()...)
	if err != nil {
		t.Fatalf("WithAxes: %v", err)
	}
	contrib := mustNew(t, "contrib", cutGeom, cutTrue)
	contrib.Counts[0] = 5 // pixel (0,0), first energy bin

	offX, offY, err := cutGeom.WindowIn(geom)
	if err != nil {
		t.Fatalf("WindowIn: %v", err)
	}
	if err := s.Stack(contrib); err != nil {
		t.Fatalf("stack: %v", err)
	}

	proj := geom.Proj()
	got := target.Counts[offY*proj.NX+offX]
	if got != 5 {
		t.Errorf("counts at window origin = %g, want 5", got)
	}
	var total float64
	for _, v := range target.Counts {
		total += v
	}
	if total != 5 {
		t.Errorf("total counts = %g, want 5", total)
	}
}

// cutoutDataset builds a contribution on a 3x3 sub-window of geom with unit
// exposure and a constant migration matrix.
func cutoutDataset(t *testing.T, name string, geom, geomTrue *skygrid.Geom, lon, lat, edisp float64) *skymap.Dataset {
	t.Helper()
	cutGeom, err := geom.Cutout(lon, lat, 3, 3)
	if err != nil {
		t.Fatalf("Cutout: %v", err)
	}
	cutTrue, err := cutGeom.WithAxes(geomTrue.Axes()...)
	if err != nil {
		t.Fatalf("WithAxes: %v", err)
	}
	ds := mustNew(t, name, cutGeom, cutTrue)
	for i := range ds.Exposure {
		ds.Exposure[i] = 1
	}
	setEDisp(ds, edisp)
	return ds
}

func TestStackDisjointWindowsWeightByTotalExposure(t *testing.T) {
	geom, geomTrue := smallGeoms(t)

	stackPair := func(first, second string) *skymap.Dataset {
		contribs := map[string]*skymap.Dataset{
			"a": cutoutDataset(t, "a", geom, geomTrue, 83.8, 22.1, 0.2),
			"b": cutoutDataset(t, "b", geom, geomTrue, 83.4, 21.9, 0.8),
		}
		target := mustNew(t, "target", geom, geomTrue)
		s := skymap.NewStacker(target)
		for _, name := range []string{first, second} {
			if err := s.Stack(contribs[name]); err != nil {
				t.Fatalf("stack %s: %v", name, err)
			}
		}
		return target
	}

	// Equal total exposure on non-overlapping footprints: the averaged
	// migration matrix is the plain mean of the two kernels. The second
	// contribution must see the first one's weight even though their
	// windows share no pixel.
	ab := stackPair("a", "b")
	ba := stackPair("b", "a")
	for i, v := range ab.EDisp {
		if math.Abs(v-0.5) > 1e-9 {
			t.Fatalf("EDisp[%d] = %g after stacking a then b, want 0.5", i, v)
		}
	}
	if diff := cmp.Diff(ab.EDisp, ba.EDisp, cmpopts.EquateApprox(1e-9, 1e-12)); diff != "" {
		t.Errorf("energy dispersion depends on stacking order:\n%s", diff)
	}
}

func TestStackRejectsMismatch(t *testing.T) {
	geom, geomTrue := smallGeoms(t)
	target := mustNew(t, "target", geom, geomTrue)
	s := skymap.NewStacker(target)

	// Different reconstructed-energy binning.
	otherGeom, otherTrue := testutil.Geoms(testutil.GeomParams{
		RefLon: 83.63, RefLat: 22.01, PixSize: 0.1,
		NX: 9, NY: 9,
		ELo: 0.5, EHi: 20, NE: 4, NETrue: 3,
	})
	contrib := mustNew(t, "contrib", otherGeom, otherTrue)
	var mismatch *skygrid.MismatchError
	if err := s.Stack(contrib); !errors.As(err, &mismatch) {
		t.Errorf("Stack error = %v, want MismatchError", err)
	}

	// Different PSF kernel binning.
	withPSF, err := skymap.New("psf", geom, geomTrue, 4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Stack(withPSF); !errors.As(err, &mismatch) {
		t.Errorf("Stack error = %v, want MismatchError", err)
	}
}

func mustNew(t *testing.T, name string, geom, geomTrue *skygrid.Geom) *skymap.Dataset {
	t.Helper()
	ds, err := skymap.New(name, geom, geomTrue, 0)
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	return ds
}

func setEDisp(ds *skymap.Dataset, v float64) {
	for i := range ds.EDisp {
		ds.EDisp[i] = v
	}
}
