// Package testutil builds small synthetic geometries, observations and
// datasets for tests and for the demo command. Helpers panic on construction
// errors: every input here is hard-coded and a failure is a programming
// mistake, not a runtime condition.
package testutil

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/banshee-data/skystack/internal/model"
	"github.com/banshee-data/skystack/internal/reduce"
	"github.com/banshee-data/skystack/internal/skygrid"
	"github.com/banshee-data/skystack/internal/skymap"
)

// GeomParams sizes a pair of synthetic analysis geometries.
type GeomParams struct {
	RefLon  float64
	RefLat  float64
	PixSize float64 // degrees
	NX, NY  int
	ELo     float64 // TeV
	EHi     float64
	NE      int // reconstructed-energy bins
	NETrue  int // true-energy bins
}

// DefaultGeomParams is a 25x25 pixel field with 3 reconstructed and 4 true
// energy bins, small enough for fast fits.
func DefaultGeomParams() GeomParams {
	return GeomParams{
		RefLon:  83.63,
		RefLat:  22.01,
		PixSize: 0.08,
		NX:      25,
		NY:      25,
		ELo:     0.5,
		EHi:     20,
		NE:      3,
		NETrue:  4,
	}
}

// Geoms builds the reduced-data and true-energy geometries, centred on the
// reference position.
func Geoms(p GeomParams) (*skygrid.Geom, *skygrid.Geom) {
	proj := skygrid.Proj{
		RefLon:  p.RefLon,
		RefLat:  p.RefLat,
		PixSize: p.PixSize,
		NX:      p.NX,
		NY:      p.NY,
		OrigX:   -p.NX / 2,
		OrigY:   -p.NY / 2,
	}
	axReco, err := skygrid.LogAxis("energy", "TeV", p.ELo, p.EHi, p.NE)
	if err != nil {
		panic(err)
	}
	axTrue, err := skygrid.LogAxis("energy_true", "TeV", p.ELo/2, p.EHi*2, p.NETrue)
	if err != nil {
		panic(err)
	}
	geom, err := skygrid.New(proj, axReco)
	if err != nil {
		panic(err)
	}
	geomTrue, err := geom.WithAxes(axTrue)
	if err != nil {
		panic(err)
	}
	return geom, geomTrue
}

// ObsParams configures one synthetic observation.
type ObsParams struct {
	ID          string
	PointingLon float64
	PointingLat float64
	LiveTime    float64 // seconds

	// Source event generation: nSrc events at the source position smeared
	// by the instrument PSF, nBkg events uniform over the field of view.
	SrcLon float64
	SrcLat float64
	NSrc   int
	NBkg   int

	Aeff      float64 // flat effective area, m^2
	BkgRate   float64 // flat background rate, events / (s sr TeV)
	EDispRes  float64
	Radius68  float64
	MaxOffset float64
}

// DefaultObsParams returns a pointing at the reference position with a
// modest source and background.
func DefaultObsParams(id string) ObsParams {
	return ObsParams{
		ID:          id,
		PointingLon: 83.63,
		PointingLat: 22.01,
		LiveTime:    1800,
		SrcLon:      83.63,
		SrcLat:      22.01,
		NSrc:        120,
		NBkg:        300,
		Aeff:        1e5,
		BkgRate:     2e-3,
		EDispRes:    0.08,
		Radius68:    0.1,
		MaxOffset:   2.0,
	}
}

// Observation generates one synthetic observation. Event positions and
// energies are drawn from rng, so a fixed seed gives a reproducible archive.
func Observation(p ObsParams, rng *rand.Rand) *reduce.Observation {
	obs := &reduce.Observation{
		ID:          p.ID,
		PointingLon: p.PointingLon,
		PointingLat: p.PointingLat,
		LiveTime:    p.LiveTime,
		Aeff: reduce.ResponseTable{
			Energy: []float64{0.1, 1, 10, 100},
			Value:  []float64{p.Aeff, p.Aeff, p.Aeff, p.Aeff},
		},
		Bkg: reduce.ResponseTable{
			Energy: []float64{0.1, 1, 10, 100},
			Value:  []float64{p.BkgRate, p.BkgRate, p.BkgRate, p.BkgRate},
		},
		EDisp:        reduce.EnergyDispersion{Resolution: p.EDispRes},
		PSF:          reduce.PSFModel{Radius68: p.Radius68},
		SafeEnergyLo: 0.4,
		SafeEnergyHi: 50,
		MaxOffset:    p.MaxOffset,
	}

	sigma := p.Radius68 / 1.5096
	for i := 0; i < p.NSrc; i++ {
		obs.Events = append(obs.Events, reduce.Event{
			Lon:    p.SrcLon + rng.NormFloat64()*sigma,
			Lat:    p.SrcLat + rng.NormFloat64()*sigma,
			Energy: powerLawEnergy(rng, 2.3, 0.5, 20),
		})
	}
	for i := 0; i < p.NBkg; i++ {
		obs.Events = append(obs.Events, reduce.Event{
			Lon:    p.PointingLon + (rng.Float64()*2-1)*p.MaxOffset,
			Lat:    p.PointingLat + (rng.Float64()*2-1)*p.MaxOffset,
			Energy: powerLawEnergy(rng, 2.7, 0.5, 20),
		})
	}
	return obs
}

// powerLawEnergy draws from a power-law spectrum with the given index,
// truncated to [lo, hi], by inverse transform sampling.
func powerLawEnergy(rng *rand.Rand, index, lo, hi float64) float64 {
	g := 1 - index
	u := rng.Float64()
	return math.Pow(math.Pow(lo, g)+u*(math.Pow(hi, g)-math.Pow(lo, g)), 1/g)
}

// Dataset builds a filled dataset directly, bypassing the reducer: uniform
// exposure, flat background, diagonal-dominant Gaussian energy dispersion
// and counts equal to the background so the container validates. Tests that
// need specific counts overwrite them afterwards.
func Dataset(name string, geom, geomTrue *skygrid.Geom) *skymap.Dataset {
	ds, err := skymap.New(name, geom, geomTrue, 0)
	if err != nil {
		panic(err)
	}
	nPix := geom.NPix()
	axReco := ds.EnergyAxis()
	axTrue := ds.EnergyTrueAxis()

	for it := 0; it < axTrue.NBins(); it++ {
		for pix := 0; pix < nPix; pix++ {
			ds.Exposure[it*nPix+pix] = 1e9 // cm^2 s
		}
	}
	for it := 0; it < axTrue.NBins(); it++ {
		eTrue := axTrue.Center(it)
		sigma := 0.1 * eTrue
		for ir := 0; ir < axReco.NBins(); ir++ {
			lo := (axReco.EdgeLo(ir) - eTrue) / (sigma * math.Sqrt2)
			hi := (axReco.EdgeHi(ir) - eTrue) / (sigma * math.Sqrt2)
			ds.EDisp[it*axReco.NBins()+ir] = 0.5 * (math.Erf(hi) - math.Erf(lo))
		}
	}
	for ie := 0; ie < axReco.NBins(); ie++ {
		for pix := 0; pix < nPix; pix++ {
			k := ie*nPix + pix
			ds.Background[k] = 2
			ds.Counts[k] = 2
		}
	}
	return ds
}

// PointPowerLaw builds the standard test source: a power law at the given
// position with free norm and index.
func PointPowerLaw(name string, lon, lat, norm, index float64) *model.SkyModel {
	return model.NewSkyModel(name, model.NewPowerLaw(norm, index, 1), model.NewPointSource(lon, lat))
}

// FillPredicted replaces the dataset counts with the rounded model
// prediction, giving a self-consistent truth dataset for recovery tests.
func FillPredicted(ds *skymap.Dataset) {
	npred := ds.Npred()
	for i, v := range npred {
		ds.Counts[i] = math.Round(v)
	}
}

// Rand returns a deterministic source for reproducible synthetic data.
func Rand(seed int64) *rand.Rand { return rand.New(rand.NewSource(seed)) }

// ObsID formats sequential observation identifiers.
func ObsID(i int) string { return fmt.Sprintf("obs-%03d", i) }
