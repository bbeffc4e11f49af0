package trend

import (
	"fmt"
	"strings"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

// Landsat 8 Collection 2 Level 2 scale factors.
const (
	opticalScale  = 0.0000275
	opticalOffset = -0.2
	thermalScale  = 0.00341802
	thermalOffset = 149.0

	cloudShadowBit = 1 << 3
	cloudBit       = 1 << 5

	// Pixel size in metres for region statistics.
	landsatScale = 30
)

// Surface reflectance bands used by the spectral indices.
const (
	bandBlue    = "SR_B2"
	bandRed     = "SR_B4"
	bandNIR     = "SR_B5"
	bandSWIR1   = "SR_B6"
	bandSWIR2   = "SR_B7"
	bandThermal = "ST_B10"
)

// SMIMethod selects how the soil moisture index is normalized.
type SMIMethod string

const (
	// SMIMethodShortwave normalizes SR_B7 by its range over the mean
	// composite of the whole collection.
	SMIMethodShortwave SMIMethod = "shortwave"

	// SMIMethodThermal normalizes ST_B10 by its range within each image.
	SMIMethodThermal SMIMethod = "thermal"
)

// Validate checks m is a known method.
func (m SMIMethod) Validate() error {
	switch m {
	case SMIMethodShortwave, SMIMethodThermal:
		return nil
	}
	return fmt.Errorf("unknown smi method %q", m)
}

// ReservedBand reports whether name is already taken on a Landsat image:
// a collection band (SR_*, ST_*, QA_*), the time band, smi or a built-in
// spectral index. Band selection is case-sensitive, and so is this.
func ReservedBand(name string) bool {
	if name == timeBand || name == "smi" {
		return true
	}
	for _, prefix := range []string{"SR_", "ST_", "QA_"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, idx := range SpectralIndices {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// Index is a named per-image band computation.
type Index struct {
	Name  string
	Apply func(img expr.Image) expr.Image
}

// MaskLandsat drops cloud and cloud-shadow pixels (QA_PIXEL bits 3 and 5)
// and rescales the optical and thermal bands to physical units. QA bands
// are kept unscaled.
func MaskLandsat(img expr.Image) expr.Image {
	qa := img.Select("QA_PIXEL")
	zero := expr.Scalar(0)
	mask := qa.BitwiseAnd(expr.Scalar(cloudShadowBit)).Eq(zero).
		And(qa.BitwiseAnd(expr.Scalar(cloudBit)).Eq(zero))

	optical := img.Select("SR_B.").Scale(opticalScale, opticalOffset)
	thermal := img.Select("ST_B.*").Scale(thermalScale, thermalOffset)

	return img.Select("QA_.*").
		AddBands(optical).
		AddBands(thermal).
		UpdateMask(mask)
}

// SpectralIndices are the indices AddIndices appends, in order.
var SpectralIndices = []Index{
	{Name: "ndvi", Apply: func(img expr.Image) expr.Image {
		return img.NormalizedDifference(bandNIR, bandRed)
	}},
	{Name: "evi", Apply: func(img expr.Image) expr.Image {
		nir, red, blue := img.Select(bandNIR), img.Select(bandRed), img.Select(bandBlue)
		denominator := nir.
			Add(red.Multiply(expr.Scalar(6))).
			Subtract(blue.Multiply(expr.Scalar(7.5))).
			Add(expr.Scalar(1))
		return nir.Subtract(red).Divide(denominator).Multiply(expr.Scalar(2.5))
	}},
	{Name: "msavi", Apply: func(img expr.Image) expr.Image {
		nir, red := img.Select(bandNIR), img.Select(bandRed)
		t := nir.Multiply(expr.Scalar(2)).Add(expr.Scalar(1))
		root := t.Multiply(t).Subtract(nir.Subtract(red).Multiply(expr.Scalar(8))).Sqrt()
		return t.Subtract(root).Divide(expr.Scalar(2))
	}},
	{Name: "mirbi", Apply: func(img expr.Image) expr.Image {
		return img.Select(bandSWIR2).Multiply(expr.Scalar(10)).
			Subtract(img.Select(bandSWIR1).Multiply(expr.Scalar(9.8))).
			Add(expr.Scalar(2))
	}},
	{Name: "ndmi", Apply: func(img expr.Image) expr.Image {
		return img.NormalizedDifference(bandNIR, bandSWIR1)
	}},
	{Name: "ndfi", Apply: func(img expr.Image) expr.Image {
		return img.NormalizedDifference(bandSWIR2, bandNIR)
	}},
	{Name: "nbr", Apply: func(img expr.Image) expr.Image {
		return img.NormalizedDifference(bandNIR, bandSWIR2)
	}},
	{Name: "nbr2", Apply: func(img expr.Image) expr.Image {
		return img.NormalizedDifference(bandSWIR1, bandSWIR2)
	}},
	{Name: "bsi", Apply: func(img expr.Image) expr.Image {
		soil := img.Select(bandSWIR1).Add(img.Select(bandRed))
		veg := img.Select(bandNIR).Add(img.Select(bandBlue))
		return soil.Subtract(veg).Divide(soil.Add(veg))
	}},
}

// AddIndices appends the spectral indices to img. Existing bands are
// untouched.
func AddIndices(img expr.Image) expr.Image {
	return ApplyIndices(img, SpectralIndices...)
}

// ApplyIndices computes each index from img and appends it as a band named
// after the index.
func ApplyIndices(img expr.Image, indices ...Index) expr.Image {
	out := img
	for _, idx := range indices {
		out = out.AddBands(idx.Apply(img).Rename(idx.Name))
	}
	return out
}

// SMIThermal computes (Ts_max - Ts) / (Ts_max - Ts_min) from ST_B10, with
// the extremes taken over the image's own footprint.
func SMIThermal(img expr.Image) expr.Image {
	ts := img.Select(bandThermal)
	footprint := img.Footprint()

	tsMax := ts.ReduceRegion(expr.Max(), footprint, landsatScale, 1e9).Get(bandThermal)
	tsMin := ts.ReduceRegion(expr.Min(), footprint, landsatScale, 1e9).Get(bandThermal)

	return expr.NumberImage(tsMax).
		Subtract(ts).
		Divide(expr.NumberImage(tsMax.Subtract(tsMin))).
		Rename("smi")
}

// ShortwaveRange returns the SR_B7 minimum and maximum of the mean
// composite of c over region.
func ShortwaveRange(c expr.ImageCollection, region expr.Geometry) (low, high expr.Number) {
	stats := c.Mean().Select(bandSWIR2).ReduceRegion(expr.MinMax(), region, landsatScale, 0)
	return stats.Get(bandSWIR2 + "_min"), stats.Get(bandSWIR2 + "_max")
}

// SMIShortwave computes 1 - (SR_B7 - low) / (high - low).
func SMIShortwave(img expr.Image, low, high expr.Number) expr.Image {
	return img.Select(bandSWIR2).
		Subtract(expr.NumberImage(low)).
		Divide(expr.NumberImage(high.Subtract(low))).
		Multiply(expr.Scalar(-1)).
		Add(expr.Scalar(1)).
		Rename("smi")
}

// addSMI appends the smi band to every image of c using method.
func addSMI(c expr.ImageCollection, region expr.Geometry, method SMIMethod) expr.ImageCollection {
	if method == SMIMethodThermal {
		return c.Map(func(img expr.Image) expr.Image {
			return img.AddBands(SMIThermal(img))
		})
	}

	low, high := ShortwaveRange(c, region)
	return c.Map(func(img expr.Image) expr.Image {
		return img.AddBands(SMIShortwave(img, low, high))
	})
}
