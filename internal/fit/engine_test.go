package fit_test

import (
	"errors"
	"math"
	"testing"

	"github.com/banshee-data/skystack/internal/fit"
	"github.com/banshee-data/skystack/internal/model"
	"github.com/banshee-data/skystack/internal/skymap"
	"github.com/banshee-data/skystack/internal/testutil"
)

const (
	truthNorm  = 400.0
	truthIndex = 2.2
)

// fitDataset builds a self-consistent truth dataset: a point power law on a
// flat background, with counts set to the rounded model prediction. Exposure
// is rescaled to order one so the normalization is a well-scaled parameter.
func fitDataset(t *testing.T, name string) (*skymap.Dataset, *model.SkyModel) {
	t.Helper()
	geom, geomTrue := testutil.Geoms(testutil.GeomParams{
		RefLon: 83.63, RefLat: 22.01, PixSize: 0.1,
		NX: 9, NY: 9,
		ELo: 0.5, EHi: 20, NE: 2, NETrue: 3,
	})
	ds := testutil.Dataset(name, geom, geomTrue)
	for i := range ds.Exposure {
		ds.Exposure[i] = 1
	}
	src := model.NewSkyModel("crab",
		model.NewPowerLaw(truthNorm, truthIndex, 1),
		model.NewPointSource(83.63, 22.01))
	ds.AttachModel(src)
	testutil.FillPredicted(ds)
	return ds, src
}

func TestEngineRecoversTruth(t *testing.T) {
	for _, backend := range []string{"simplex", "lbfgs", "hesse"} {
		t.Run(backend, func(t *testing.T) {
			ds, src := fitDataset(t, "truth-"+backend)
			pl := src.Spectral.(*model.PowerLaw)
			pl.NormPar.Value = 600
			pl.IndexPar.Value = 1.9

			engine, err := fit.NewEngine(ds)
			if err != nil {
				t.Fatalf("NewEngine: %v", err)
			}
			res, err := engine.Run(backend, fit.Config{})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Converged {
				t.Fatal("fit did not converge")
			}
			if math.Abs(pl.NormPar.Value-truthNorm) > 0.02*truthNorm {
				t.Errorf("norm = %g, want %g", pl.NormPar.Value, truthNorm)
			}
			if math.Abs(pl.IndexPar.Value-truthIndex) > 0.05 {
				t.Errorf("index = %g, want %g", pl.IndexPar.Value, truthIndex)
			}

			// The minimum cannot sit above the statistic at the truth values.
			statFit := res.Stat
			pl.NormPar.Value, pl.IndexPar.Value = truthNorm, truthIndex
			if statTruth := engine.TotalStat(); statFit > statTruth+0.1 {
				t.Errorf("stat at fit = %g, stat at truth = %g", statFit, statTruth)
			}
		})
	}
}

func TestHesseCovarianceAndErrors(t *testing.T) {
	ds, src := fitDataset(t, "hesse")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := engine.Run("hesse", fit.Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Errors == nil {
		t.Fatal("hesse backend produced no errors")
	}
	for i, e := range res.Errors {
		if !(e > 0) {
			t.Errorf("error[%d] (%s) = %g, want > 0", i, res.Names[i], e)
		}
	}
	// Errors flow back into the shared parameter objects.
	if src.Spectral.Norm().Err <= 0 {
		t.Error("norm error not written back")
	}

	cov, err := engine.Covariance()
	if err != nil {
		t.Fatalf("Covariance: %v", err)
	}
	n := cov.SymmetricDim()
	if n != len(res.Names) {
		t.Fatalf("covariance dimension %d, want %d", n, len(res.Names))
	}
	for i := 0; i < n; i++ {
		if cov.At(i, i) <= 0 {
			t.Errorf("cov[%d,%d] = %g, want > 0", i, i, cov.At(i, i))
		}
	}
}

func TestSimplexCovarianceUnavailable(t *testing.T) {
	ds, _ := fitDataset(t, "simplex-cov")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Run("simplex", fit.Config{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := engine.Covariance(); !errors.Is(err, fit.ErrCovarianceUnavailable) {
		t.Errorf("Covariance error = %v, want ErrCovarianceUnavailable", err)
	}
}

func TestRunFailureRestoresParameters(t *testing.T) {
	ds, src := fitDataset(t, "restore")
	pl := src.Spectral.(*model.PowerLaw)
	pl.NormPar.Value = 600
	pl.IndexPar.Value = 1.9

	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	// Three evaluations cannot converge; the failed run must leave the
	// starting point untouched.
	_, err = engine.Run("simplex", fit.Config{MaxEvals: 3})
	var optErr *fit.OptimizationError
	if !errors.As(err, &optErr) {
		t.Fatalf("Run error = %v, want OptimizationError", err)
	}
	if pl.NormPar.Value != 600 || pl.IndexPar.Value != 1.9 {
		t.Errorf("parameters moved after failed fit: norm=%g index=%g",
			pl.NormPar.Value, pl.IndexPar.Value)
	}
}

func TestUnknownBackend(t *testing.T) {
	ds, _ := fitDataset(t, "unknown")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Run("annealing", fit.Config{}); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestParamByName(t *testing.T) {
	ds, src := fitDataset(t, "names")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	p, err := engine.ParamByName("crab.norm")
	if err != nil {
		t.Fatalf("ParamByName: %v", err)
	}
	if p != src.Spectral.Norm() {
		t.Error("qualified lookup returned a different parameter object")
	}
	if _, err := engine.ParamByName("index"); err != nil {
		t.Errorf("bare lookup failed: %v", err)
	}
	if _, err := engine.ParamByName("crab.cutoff"); err == nil {
		t.Error("lookup of a missing parameter succeeded")
	}
	if _, err := engine.ParamByName("nebula.norm"); err == nil {
		t.Error("lookup on a missing source succeeded")
	}
}

func TestStackedTwoToOneExposureRecovery(t *testing.T) {
	// Two observations of the same field with identical response and a 2:1
	// exposure ratio: the stack carries the summed counts and the common
	// response unchanged, and a fit on the stack recovers the injected
	// normalization.
	shallow, src := fitDataset(t, "shallow")
	deep := testutil.Dataset("deep", shallow.Geom, shallow.GeomTrue)
	for i := range deep.Exposure {
		deep.Exposure[i] = 2
	}
	deep.AttachModel(src)
	testutil.FillPredicted(deep)

	target, err := skymap.New("stacked", shallow.Geom, shallow.GeomTrue, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := skymap.NewStacker(target)
	if err := s.Stack(shallow); err != nil {
		t.Fatalf("stack shallow: %v", err)
	}
	if err := s.Stack(deep); err != nil {
		t.Fatalf("stack deep: %v", err)
	}

	for i := range target.Counts {
		if want := shallow.Counts[i] + deep.Counts[i]; target.Counts[i] != want {
			t.Fatalf("counts[%d] = %g, want the sum %g", i, target.Counts[i], want)
		}
	}
	// Identical kernels average to themselves whatever the weights.
	for i := range target.EDisp {
		if math.Abs(target.EDisp[i]-shallow.EDisp[i]) > 1e-9 {
			t.Fatalf("EDisp[%d] = %g, want the common kernel %g", i, target.EDisp[i], shallow.EDisp[i])
		}
	}

	target.AttachModel(src)
	pl := src.Spectral.(*model.PowerLaw)
	pl.NormPar.Value = 550
	pl.IndexPar.Value = 2.0
	engine, err := fit.NewEngine(target)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Run("simplex", fit.Config{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(pl.NormPar.Value-truthNorm) > 0.02*truthNorm {
		t.Errorf("stacked norm = %g, want %g", pl.NormPar.Value, truthNorm)
	}
	if math.Abs(pl.IndexPar.Value-truthIndex) > 0.05 {
		t.Errorf("stacked index = %g, want %g", pl.IndexPar.Value, truthIndex)
	}
}

func TestRunWithoutCovarianceClearsErrors(t *testing.T) {
	ds, src := fitDataset(t, "stale-errors")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.Run("hesse", fit.Config{}); err != nil {
		t.Fatalf("hesse run: %v", err)
	}
	if src.Spectral.Norm().Err <= 0 {
		t.Fatal("hesse run left no error to go stale")
	}
	// A refit with a covariance-free backend must not keep reporting the
	// previous errors against its new values.
	if _, err := engine.Run("simplex", fit.Config{}); err != nil {
		t.Fatalf("simplex run: %v", err)
	}
	if got := src.Spectral.Norm().Err; got != 0 {
		t.Errorf("norm error = %g after a covariance-free refit, want 0", got)
	}
}

func TestJointFitSharedModel(t *testing.T) {
	// The same model attached to two datasets is fit jointly with each
	// parameter appearing once.
	dsA, src := fitDataset(t, "joint-a")
	geom, geomTrue := dsA.Geom, dsA.GeomTrue
	dsB := testutil.Dataset("joint-b", geom, geomTrue)
	for i := range dsB.Exposure {
		dsB.Exposure[i] = 2 // twice the depth
	}
	dsB.AttachModel(src)
	testutil.FillPredicted(dsB)

	engine, err := fit.NewEngine(dsA, dsB)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := len(engine.Parameters()); got != len(src.Parameters()) {
		t.Fatalf("joint parameter count %d, want %d", got, len(src.Parameters()))
	}

	pl := src.Spectral.(*model.PowerLaw)
	pl.NormPar.Value = 550
	pl.IndexPar.Value = 2.0
	if _, err := engine.Run("simplex", fit.Config{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(pl.NormPar.Value-truthNorm) > 0.02*truthNorm {
		t.Errorf("joint norm = %g, want %g", pl.NormPar.Value, truthNorm)
	}
}
