package fit_test

import (
	"math"
	"testing"

	"github.com/banshee-data/skystack/internal/fit"
)

func TestStatProfileBracketsMinimum(t *testing.T) {
	ds, src := fitDataset(t, "profile")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := engine.Run("simplex", fit.Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	best := src.Spectral.Norm().Value
	points, err := engine.StatProfile("crab.norm", 0.8*best, 1.2*best, 9, "simplex", fit.Config{})
	if err != nil {
		t.Fatalf("StatProfile: %v", err)
	}
	if len(points) != 9 {
		t.Fatalf("got %d points, want 9", len(points))
	}

	// No profiled point can undercut the joint minimum, and the profile
	// must rise towards both ends of the scan.
	minI := 0
	for i, p := range points {
		if p.Err != nil {
			t.Fatalf("point %d failed: %v", i, p.Err)
		}
		if p.Stat < res.Stat-0.01 {
			t.Errorf("profile stat %g below joint minimum %g", p.Stat, res.Stat)
		}
		if p.Stat < points[minI].Stat {
			minI = i
		}
	}
	if points[0].Stat <= points[minI].Stat || points[len(points)-1].Stat <= points[minI].Stat {
		t.Error("profile is not convex around the best fit")
	}
	// The profile minimum sits at the scan point nearest the best fit.
	if math.Abs(points[minI].Value-best) > (points[1].Value - points[0].Value) {
		t.Errorf("profile minimum at %g, best fit at %g", points[minI].Value, best)
	}

	// The scan must leave the parameter state where it found it.
	if src.Spectral.Norm().Value != best {
		t.Errorf("norm = %g after profile, want %g", src.Spectral.Norm().Value, best)
	}
	if src.Spectral.Norm().Frozen {
		t.Error("norm left frozen after profile")
	}
}

func TestStatProfileValidation(t *testing.T) {
	ds, _ := fitDataset(t, "profile-validate")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.StatProfile("crab.norm", 100, 200, 1, "simplex", fit.Config{}); err == nil {
		t.Error("single-point profile accepted")
	}
	if _, err := engine.StatProfile("crab.norm", 200, 100, 5, "simplex", fit.Config{}); err == nil {
		t.Error("inverted range accepted")
	}
	if _, err := engine.StatProfile("crab.cutoff", 100, 200, 5, "simplex", fit.Config{}); err == nil {
		t.Error("unknown parameter accepted")
	}
}

func TestFixedStatAtBestMatchesMinimum(t *testing.T) {
	ds, src := fitDataset(t, "fixed")
	engine, err := fit.NewEngine(ds)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := engine.Run("simplex", fit.Config{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	best := src.Spectral.Norm().Value

	stat, err := engine.FixedStat("crab.norm", best, "simplex", fit.Config{})
	if err != nil {
		t.Fatalf("FixedStat: %v", err)
	}
	if stat < res.Stat-1e-3 || stat > res.Stat+0.1 {
		t.Errorf("FixedStat at best = %g, joint minimum = %g", stat, res.Stat)
	}

	// Away from the best fit the profiled statistic must be higher.
	statOff, err := engine.FixedStat("crab.norm", 1.5*best, "simplex", fit.Config{})
	if err != nil {
		t.Fatalf("FixedStat: %v", err)
	}
	if statOff <= stat {
		t.Errorf("stat at 1.5*best = %g, at best = %g", statOff, stat)
	}

	if src.Spectral.Norm().Value != best || src.Spectral.Norm().Frozen {
		t.Error("FixedStat did not restore parameter state")
	}
}
