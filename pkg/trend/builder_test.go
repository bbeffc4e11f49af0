package trend

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

func testRegion() expr.Geometry {
	return expr.Polygon([][][2]float64{{
		{73.68, 14.89}, {73.68, 15.80}, {74.34, 15.80}, {74.34, 14.89}, {73.68, 14.89},
	}}, "EPSG:4326", true)
}

func encode(t *testing.T, v expr.Value) (*expr.Expression, string) {
	t.Helper()

	e, err := expr.Encode(v)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if err := e.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return e, string(data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func build(t *testing.T, src Source) Descriptor {
	t.Helper()

	b, err := NewBuilder(src)
	if err != nil {
		t.Fatalf("NewBuilder(%s) error = %v", src.Name, err)
	}
	d, err := b.Build(testRegion())
	if err != nil {
		t.Fatalf("Build(%s) error = %v", src.Name, err)
	}
	return d
}

func TestBuildBandNames(t *testing.T) {
	tests := []struct {
		name   string
		source Source
		want   []string
	}{
		{
			name:   "rain",
			source: RainSource(Options{}, 0, 0),
			want:   []string{"rain_Slope", "rain_Intercept"},
		},
		{
			name:   "soil moisture",
			source: SoilMoistureSource(Options{}),
			want:   []string{"sm_surface_Slope", "sm_surface_Intercept"},
		},
		{
			name:   "humidity",
			source: HumiditySource(Options{}, false),
			want:   []string{"rh_Slope", "rh_Intercept"},
		},
		{
			name: "landsat subset with alias",
			source: LandsatSource(Options{
				Variables: []Variable{{Band: "ndvi"}, {Band: "ST_B10", Alias: "lst"}},
			}, LandsatOptions{}),
			want: []string{"ndvi_Slope", "ndvi_Intercept", "lst_Slope", "lst_Intercept"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := build(t, tt.source)
			if diff := cmp.Diff(tt.want, d.Bands); diff != "" {
				t.Errorf("Bands mismatch (-want +got):\n%s", diff)
			}
			if d.Name != tt.source.Name {
				t.Errorf("Name = %q, want %q", d.Name, tt.source.Name)
			}

			e, _ := encode(t, d.Image)
			if !contains(e.Functions(), "Reducer.linearFit") {
				t.Errorf("Functions() = %v, want Reducer.linearFit", e.Functions())
			}
		})
	}
}

func TestBuildLandsatDefaults(t *testing.T) {
	d := build(t, LandsatSource(Options{}, LandsatOptions{}))

	if len(d.Bands) != 22 {
		t.Fatalf("len(Bands) = %d, want 22", len(d.Bands))
	}
	for i, v := range LandsatVariables() {
		if d.Bands[2*i] != v.Band+"_Slope" || d.Bands[2*i+1] != v.Band+"_Intercept" {
			t.Errorf("Bands[%d:%d] = %v, want %s pair", 2*i, 2*i+2, d.Bands[2*i:2*i+2], v.Band)
		}
	}

	_, data := encode(t, d.Image)
	for _, want := range []string{
		`"LANDSAT/LC08/C02/T1_L2"`,
		`"CLOUD_COVER"`,
		`"2013-03-20"`,
		`"2023-02-28"`,
		`"QA_PIXEL"`,
	} {
		if !strings.Contains(data, want) {
			t.Errorf("expression does not contain %s", want)
		}
	}
}

func TestBuildSelectsTimeBeforeVariable(t *testing.T) {
	d := build(t, SoilMoistureSource(Options{}))
	_, data := encode(t, d.Image)

	want := `{"constantValue":"time"},{"constantValue":"soil_moisture_am"}`
	if !strings.Contains(data, want) {
		t.Errorf("expression does not select [time, soil_moisture_am]: %s", data)
	}
}

func TestBuildTimeReference(t *testing.T) {
	src := HumiditySource(Options{TimeReference: "1979-01-01"}, false)
	_, data := encode(t, build(t, src).Image)

	if !strings.Contains(data, `"1979-01-01"`) {
		t.Error("expression does not use the configured time reference")
	}
	if !strings.Contains(data, `"1980-01-01"`) {
		t.Error("expression does not keep the default start date")
	}
}

func TestLandsatSMIMethod(t *testing.T) {
	tests := []struct {
		name      string
		options   LandsatOptions
		variables []Variable
		want      []string
		wantNot   []string
	}{
		{
			name:    "shortwave by default",
			want:    []string{"Reducer.minMax", "reduce.mean"},
			wantNot: []string{"Element.geometry", "Reducer.max"},
		},
		{
			name:    "thermal",
			options: LandsatOptions{SMI: SMIMethodThermal},
			want:    []string{"Element.geometry", "Reducer.max", "Reducer.min"},
			wantNot: []string{"Reducer.minMax"},
		},
		{
			name:      "not computed without smi variable",
			variables: []Variable{{Band: "ndvi"}},
			wantNot:   []string{"Image.reduceRegion"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := build(t, LandsatSource(Options{Variables: tt.variables}, tt.options))
			e, _ := encode(t, d.Image)
			functions := e.Functions()

			for _, fn := range tt.want {
				if !contains(functions, fn) {
					t.Errorf("missing %s in %v", fn, functions)
				}
			}
			for _, fn := range tt.wantNot {
				if contains(functions, fn) {
					t.Errorf("unexpected %s in %v", fn, functions)
				}
			}
		})
	}
}

func TestSourceValidate(t *testing.T) {
	valid := SoilMoistureSource(Options{})

	tests := []struct {
		name    string
		mutate  func(*Source)
		wantErr error
	}{
		{name: "valid", mutate: func(*Source) {}},
		{name: "no name", mutate: func(s *Source) { s.Name = "" }, wantErr: ErrInvalidSource},
		{name: "no collection", mutate: func(s *Source) { s.CollectionID = "" }, wantErr: ErrInvalidSource},
		{name: "bad start", mutate: func(s *Source) { s.Start = "April 2015" }, wantErr: ErrInvalidSource},
		{name: "end before start", mutate: func(s *Source) { s.End = "2014-01-01" }, wantErr: ErrInvalidSource},
		{name: "bad reference", mutate: func(s *Source) { s.TimeReference = "2015" }, wantErr: ErrInvalidSource},
		{name: "no variables", mutate: func(s *Source) { s.Variables = nil }, wantErr: ErrInvalidSource},
		{name: "reserved band", mutate: func(s *Source) { s.Variables = []Variable{{Band: "time"}} }, wantErr: ErrInvalidSource},
		{
			name: "duplicate alias",
			mutate: func(s *Source) {
				s.Variables = []Variable{{Band: "soil_moisture_am", Alias: "sm"}, {Band: "soil_moisture_pm", Alias: "sm"}}
			},
			wantErr: ErrDuplicateBand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := valid
			src.Variables = append([]Variable(nil), valid.Variables...)
			tt.mutate(&src)

			_, err := NewBuilder(src)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("NewBuilder() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewBuilder() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildRequiresRegion(t *testing.T) {
	b, err := NewBuilder(RainSource(Options{}, 0, 0))
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	if _, err := b.Build(expr.Geometry{}); err == nil {
		t.Error("Build() with empty region succeeded")
	}
}

func TestMerge(t *testing.T) {
	landsat := build(t, LandsatSource(Options{}, LandsatOptions{}))
	rain := build(t, RainSource(Options{}, 0, 0))
	sm := build(t, SoilMoistureSource(Options{}))
	rh := build(t, HumiditySource(Options{}, false))

	all, err := Merge("all", landsat, rain, sm, rh)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if len(all.Bands) != 28 {
		t.Errorf("len(Bands) = %d, want 28", len(all.Bands))
	}
	seen := make(map[string]bool)
	for _, b := range all.Bands {
		if seen[b] {
			t.Errorf("band %s repeated", b)
		}
		seen[b] = true
	}

	wantTail := []string{"rain_Slope", "rain_Intercept", "sm_surface_Slope", "sm_surface_Intercept", "rh_Slope", "rh_Intercept"}
	if diff := cmp.Diff(wantTail, all.Bands[22:]); diff != "" {
		t.Errorf("Bands tail mismatch (-want +got):\n%s", diff)
	}
	if got := all.Image.Node().FunctionName(); got != "Image.addBands" {
		t.Errorf("root function = %q, want Image.addBands", got)
	}
	encode(t, all.Image)
}

func TestMergeRejectsDuplicates(t *testing.T) {
	rain := build(t, RainSource(Options{}, 0, 0))

	_, err := Merge("all", rain, rain)
	if !errors.Is(err, ErrDuplicateBand) {
		t.Errorf("Merge() error = %v, want ErrDuplicateBand", err)
	}

	if _, err := Merge("all"); err == nil {
		t.Error("Merge() with no descriptors succeeded")
	}
}
