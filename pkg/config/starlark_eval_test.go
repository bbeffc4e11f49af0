package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

func functionsOf(t *testing.T, img expr.Image) []string {
	t.Helper()
	e, err := expr.Encode(img)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return e.Functions()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCompileIndex(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{
			name:   "normalized difference builtin",
			script: `index = nd("SR_B5", "SR_B3")`,
			want:   []string{"Image.normalizedDifference"},
		},
		{
			name:   "arithmetic",
			script: `index = (band("SR_B5") - band("SR_B4")) / (band("SR_B5") + band("SR_B4") + 0.5) * 1.5`,
			want:   []string{"Image.select", "Image.subtract", "Image.divide", "Image.add", "Image.multiply"},
		},
		{
			name:   "number on the left",
			script: `index = 1 - band("SR_B4")`,
			want:   []string{"Image.subtract", "Image.constant"},
		},
		{
			name:   "helpers and negation",
			script: "def ratio(a, b):\n    return band(a) / band(b)\nindex = -sqrt(ratio(\"SR_B5\", \"SR_B4\")) + exp(band(\"SR_B7\"))",
			want:   []string{"Image.sqrt", "Image.exp", "Image.multiply"},
		},
	}

	c := NewIndexCompiler(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := c.Compile(context.Background(), CustomIndex{Name: "custom", Script: tt.script})
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if idx.Name != "custom" {
				t.Errorf("Name = %q", idx.Name)
			}
			fns := functionsOf(t, idx.Apply(expr.LoadImage("LANDSAT/LC08/C02/T1_L2/x")))
			for _, fn := range tt.want {
				if !contains(fns, fn) {
					t.Errorf("functions %v missing %s", fns, fn)
				}
			}
		})
	}
}

func TestCompileIndexErrors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{name: "no index", script: `x = band("SR_B4")`, wantErr: "does not assign index"},
		{name: "constant", script: `index = 2 * 3`, wantErr: "constant"},
		{name: "string operand", script: `index = band("SR_B4") + "x"`, wantErr: "unsupported operand"},
		{name: "syntax", script: `index = band(`, wantErr: "custom index"},
		{name: "empty band", script: `index = band("")`, wantErr: "empty band name"},
		{name: "no filesystem", script: `index = load("x.star")`, wantErr: "custom index"},
	}

	c := NewIndexCompiler(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(context.Background(), CustomIndex{Name: "bad", Script: tt.script})
			if err == nil {
				t.Fatal("Compile() succeeded")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestCompileIndexTimeout(t *testing.T) {
	script := "def spin():\n    for i in range(1000000000):\n        pass\nspin()\nindex = band(\"SR_B4\")"

	c := NewIndexCompiler(20 * time.Millisecond)
	start := time.Now()
	_, err := c.Compile(context.Background(), CustomIndex{Name: "slow", Script: script})
	if err == nil {
		t.Fatal("Compile() succeeded")
	}
	if !strings.Contains(err.Error(), "evaluation stopped") {
		t.Errorf("error = %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestCompileIndices(t *testing.T) {
	c := NewIndexCompiler(0)

	got, err := c.CompileIndices(context.Background(), []CustomIndex{
		{Name: "gndvi", Script: `index = nd("SR_B5", "SR_B3")`},
		{Name: "sr", Script: `index = band("SR_B5") / band("SR_B4")`},
	})
	if err != nil {
		t.Fatalf("CompileIndices() error = %v", err)
	}
	if len(got) != 2 || got[0].Name != "gndvi" || got[1].Name != "sr" {
		t.Errorf("indices = %+v", got)
	}

	for _, name := range []string{"ndvi", "smi", "time", "ST_B10", "SR_B5", "QA_PIXEL"} {
		_, err := c.CompileIndices(context.Background(), []CustomIndex{{Name: name, Script: `index = band("SR_B4")`}})
		if err == nil || !strings.Contains(err.Error(), "already in use") {
			t.Errorf("CompileIndices(%s) error = %v", name, err)
		}
	}

	_, err = c.CompileIndices(context.Background(), []CustomIndex{
		{Name: "twice", Script: `index = band("SR_B4")`},
		{Name: "twice", Script: `index = band("SR_B5")`},
	})
	if err == nil {
		t.Error("duplicate custom index accepted")
	}
}
