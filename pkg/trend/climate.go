package trend

import (
	"math"
	"time"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

// Magnus coefficients for saturation vapor pressure, in hPa.
const (
	magnusA = 6.112
	magnusB = 19.67
	magnusC = 243.5

	kelvinOffset = 273.15
)

// SaturationVaporPressure returns 6.112 * exp(19.67 t / (t + 243.5)).
func SaturationVaporPressure(t float64) float64 {
	return magnusA * math.Exp(magnusB*t/(t+magnusC))
}

// RelativeHumidity returns 100 * e(td) / e(t) for air temperature t and
// dew point td.
func RelativeHumidity(t, td float64) float64 {
	return 100 * SaturationVaporPressure(td) / SaturationVaporPressure(t)
}

// ElapsedYears returns the fractional number of calendar years from start
// to t. Whole years are counted on the calendar; the remainder is divided
// by the length of the year it falls in, so leap days do not skew it.
func ElapsedYears(start, t time.Time) float64 {
	if t.Before(start) {
		return -ElapsedYears(t, start)
	}

	years := t.Year() - start.Year()
	anchor := start.AddDate(years, 0, 0)
	if anchor.After(t) {
		years--
		anchor = start.AddDate(years, 0, 0)
	}

	next := start.AddDate(years+1, 0, 0)
	fraction := float64(t.Sub(anchor)) / float64(next.Sub(anchor))
	return float64(years) + fraction
}

// vaporPressureImage is SaturationVaporPressure applied per pixel.
func vaporPressureImage(t expr.Image) expr.Image {
	exponent := t.Multiply(expr.Scalar(magnusB)).Divide(t.Add(expr.Scalar(magnusC)))
	return exponent.Exp().Multiply(expr.Scalar(magnusA))
}

// HumidityImage derives a single RH band from the ERA5-Land
// temperature_2m and dewpoint_temperature_2m bands. Band values are used as
// delivered unless celsius is set, in which case they are converted from
// kelvin first. The image keeps its system:time_start.
func HumidityImage(img expr.Image, celsius bool) expr.Image {
	t := img.Select("temperature_2m")
	td := img.Select("dewpoint_temperature_2m")
	if celsius {
		t = t.Subtract(expr.Scalar(kelvinOffset))
		td = td.Subtract(expr.Scalar(kelvinOffset))
	}

	rh := vaporPressureImage(td).
		Divide(vaporPressureImage(t)).
		Multiply(expr.Scalar(100)).
		Rename("RH")
	return rh.Set("system:time_start", img.Get("system:time_start"))
}

// YearlySum returns the sum of c over calendar year as a single
// precipitation image dated January 1st of that year.
func YearlySum(c expr.ImageCollection, year expr.Number, region expr.Geometry) expr.Image {
	return c.Filter(expr.CalendarRange(year, year, "year")).
		Sum().
		Clip(region).
		Set("year", year).
		Set("system:time_start", expr.DateFromYMD(year, 1, 1).Millis()).
		Rename("precipitation")
}
