package trend

import (
	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

// Catalog ids of the supported datasets.
const (
	LandsatCollection  = "LANDSAT/LC08/C02/T1_L2"
	RainCollection     = "UCSB-CHG/CHIRPS/DAILY"
	SMAPCollection     = "NASA/SMAP/SPL3SMP_E/005"
	HumidityCollection = "ECMWF/ERA5_LAND/MONTHLY_AGGR"
)

// Options are the settings shared by every source. Zero fields take the
// source's defaults.
type Options struct {
	CollectionID  string
	Start         string
	End           string
	TimeReference string
	Variables     []Variable
}

func (o Options) source(name string, defaults Options) Source {
	s := Source{
		Name:          name,
		CollectionID:  defaults.CollectionID,
		Start:         defaults.Start,
		End:           defaults.End,
		TimeReference: o.TimeReference,
		Variables:     defaults.Variables,
	}
	if o.CollectionID != "" {
		s.CollectionID = o.CollectionID
	}
	if o.Start != "" {
		s.Start = o.Start
	}
	if o.End != "" {
		s.End = o.End
	}
	if len(o.Variables) > 0 {
		s.Variables = o.Variables
	}
	return s
}

// LandsatVariables are the default Landsat trend bands.
func LandsatVariables() []Variable {
	names := []string{"ndvi", "evi", "mirbi", "ndfi", "bsi", "ndmi", "nbr", "nbr2", "msavi", "smi", bandThermal}
	vars := make([]Variable, len(names))
	for i, n := range names {
		vars[i] = Variable{Band: n}
	}
	return vars
}

// LandsatOptions are the Landsat-only settings.
type LandsatOptions struct {
	// CloudCover is the exclusive upper bound on scene CLOUD_COVER.
	CloudCover float64

	// SMI selects the soil moisture formulation. Empty means shortwave.
	SMI SMIMethod

	// Indices are computed after the built-in spectral indices.
	Indices []Index
}

// LandsatSource masks, rescales and derives indices from Landsat 8 surface
// reflectance. The smi band is only computed when a variable uses it.
func LandsatSource(o Options, l LandsatOptions) Source {
	s := o.source("landsat", Options{
		CollectionID: LandsatCollection,
		Start:        "2013-03-20",
		End:          "2023-02-28",
		Variables:    LandsatVariables(),
	})

	cloud := l.CloudCover
	if cloud <= 0 {
		cloud = 10
	}
	method := l.SMI
	if method == "" {
		method = SMIMethodShortwave
	}

	withSMI := usesBand(s.Variables, "smi")

	s.Filters = []expr.Filter{expr.LessThan("CLOUD_COVER", cloud)}
	s.Prepare = func(c expr.ImageCollection, region expr.Geometry) expr.ImageCollection {
		c = clipTo(c.Map(MaskLandsat), region).
			Map(func(img expr.Image) expr.Image {
				return ApplyIndices(AddIndices(img), l.Indices...)
			})
		if withSMI {
			c = addSMI(c, region, method)
		}
		return c
	}
	return s
}

// RainSource sums CHIRPS daily precipitation per calendar year from
// firstYear to lastYear inclusive.
func RainSource(o Options, firstYear, lastYear int) Source {
	s := o.source("rain", Options{
		CollectionID: RainCollection,
		Start:        "1982-01-01",
		End:          "2022-12-31",
		Variables:    []Variable{{Band: "precipitation", Alias: "rain"}},
	})
	if firstYear == 0 {
		firstYear = 1982
	}
	if lastYear == 0 {
		lastYear = 2021
	}

	s.Prepare = func(c expr.ImageCollection, region expr.Geometry) expr.ImageCollection {
		years := expr.Sequence(firstYear, lastYear).MapImages(func(year expr.Number) expr.Image {
			return YearlySum(c, year, region)
		})
		return expr.FromImages(years)
	}
	return s
}

// SoilMoistureSource regresses SMAP enhanced L3 morning soil moisture.
func SoilMoistureSource(o Options) Source {
	s := o.source("sm", Options{
		CollectionID: SMAPCollection,
		Start:        "2015-04-01",
		End:          "2023-02-28",
		Variables:    []Variable{{Band: "soil_moisture_am", Alias: "sm_surface"}},
	})
	s.Prepare = clipTo
	return s
}

// HumiditySource regresses relative humidity derived from ERA5-Land
// monthly temperature and dew point.
func HumiditySource(o Options, celsius bool) Source {
	s := o.source("rh", Options{
		CollectionID: HumidityCollection,
		Start:        "1980-01-01",
		End:          "2023-02-28",
		Variables:    []Variable{{Band: "RH", Alias: "rh"}},
	})
	s.Prepare = func(c expr.ImageCollection, region expr.Geometry) expr.ImageCollection {
		return clipTo(c, region).Map(func(img expr.Image) expr.Image {
			return HumidityImage(img, celsius)
		})
	}
	return s
}

func clipTo(c expr.ImageCollection, region expr.Geometry) expr.ImageCollection {
	return c.Map(func(img expr.Image) expr.Image { return img.Clip(region) })
}

func usesBand(vars []Variable, band string) bool {
	for _, v := range vars {
		if v.Band == band {
			return true
		}
	}
	return false
}
