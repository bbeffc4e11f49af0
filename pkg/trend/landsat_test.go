package trend

import (
	"strings"
	"testing"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

func TestMaskLandsat(t *testing.T) {
	img := MaskLandsat(expr.LoadImage("LANDSAT/LC08/C02/T1_L2/LC08_147049_20140101"))

	if got := img.Node().FunctionName(); got != "Image.updateMask" {
		t.Fatalf("root function = %q, want Image.updateMask", got)
	}

	_, data := encode(t, img)
	for _, want := range []string{
		`"QA_PIXEL"`, `"QA_.*"`, `"SR_B."`, `"ST_B.*"`,
		`2.75e-05`, `-0.2`, `0.00341802`, `149`,
		`"constantValue":8`, `"constantValue":32`,
	} {
		if !strings.Contains(data, want) {
			t.Errorf("expression does not contain %s", want)
		}
	}
}

func TestAddIndices(t *testing.T) {
	img := AddIndices(expr.LoadImage("LANDSAT/LC08/C02/T1_L2/LC08_147049_20140101"))
	_, data := encode(t, img)

	for _, idx := range SpectralIndices {
		if !strings.Contains(data, `"constantValue":"`+idx.Name+`"`) {
			t.Errorf("index %s is not named in the expression", idx.Name)
		}
	}
	if len(SpectralIndices) != 9 {
		t.Errorf("len(SpectralIndices) = %d, want 9", len(SpectralIndices))
	}
}

func TestApplyIndicesReadsOriginalBands(t *testing.T) {
	base := expr.LoadImage("img")
	custom := Index{Name: "double_nir", Apply: func(img expr.Image) expr.Image {
		if img.Node() != base.Node() {
			t.Error("index received a derived image")
		}
		return img.Select("SR_B5").Multiply(expr.Scalar(2))
	}}

	out := ApplyIndices(base, custom, custom)
	if out.Node().FunctionName() != "Image.addBands" {
		t.Errorf("root function = %q", out.Node().FunctionName())
	}
}

func TestSMIFormulations(t *testing.T) {
	img := expr.LoadImage("img")

	thermal := SMIThermal(img)
	e, data := encode(t, thermal)
	if !strings.Contains(data, `"ST_B10"`) || !strings.Contains(data, `1000000000`) {
		t.Errorf("thermal smi expression missing ST_B10 or maxPixels: %s", data)
	}
	if !contains(e.Functions(), "Element.geometry") {
		t.Errorf("thermal smi does not use the image footprint: %v", e.Functions())
	}

	c := expr.LoadCollection(LandsatCollection)
	low, high := ShortwaveRange(c, testRegion())
	shortwave := SMIShortwave(img, low, high)
	_, data = encode(t, shortwave)
	for _, want := range []string{`"SR_B7_min"`, `"SR_B7_max"`, `"smi"`} {
		if !strings.Contains(data, want) {
			t.Errorf("shortwave smi expression does not contain %s", want)
		}
	}
}

func TestSMIMethodValidate(t *testing.T) {
	for _, m := range []SMIMethod{SMIMethodShortwave, SMIMethodThermal} {
		if err := m.Validate(); err != nil {
			t.Errorf("%s.Validate() error = %v", m, err)
		}
	}
	if err := SMIMethod("ndvi").Validate(); err == nil {
		t.Error("unknown method validated")
	}
}

func TestReservedBand(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"time", true},
		{"smi", true},
		{"ndvi", true},
		{"nbr2", true},
		{"SR_B5", true},
		{"ST_B10", true},
		{"QA_PIXEL", true},
		{"gndvi", false},
		{"sr", false},
		{"Time", false},
	}
	for _, tt := range tests {
		if got := ReservedBand(tt.name); got != tt.want {
			t.Errorf("ReservedBand(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
