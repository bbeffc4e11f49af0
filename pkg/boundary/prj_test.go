package boundary

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

const (
	esriGCS = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

	esriUTM43N = `PROJCS["WGS_1984_UTM_Zone_43N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",75.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

	ogcUTM43N = `PROJCS["WGS 84 / UTM zone 43N",
    GEOGCS["WGS 84",
        DATUM["WGS_1984",
            SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],
            AUTHORITY["EPSG","6326"]],
        PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],
        UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],
        AUTHORITY["EPSG","4326"]],
    PROJECTION["Transverse_Mercator"],
    UNIT["metre",1,AUTHORITY["EPSG","9001"]],
    AUTHORITY["EPSG","32643"]]`
)

func TestParsePRJ(t *testing.T) {
	tests := []struct {
		name    string
		wkt     string
		want    string
		wantErr bool
	}{
		{name: "esri geographic", wkt: esriGCS, want: "EPSG:4326"},
		{name: "esri utm north", wkt: esriUTM43N, want: "EPSG:32643"},
		{name: "esri utm south", wkt: strings.Replace(esriUTM43N, "Zone_43N", "Zone_23S", 1), want: "EPSG:32723"},
		{name: "ogc with authority", wkt: ogcUTM43N, want: "EPSG:32643"},
		{name: "ogc geographic name", wkt: `GEOGCS["WGS 84",DATUM["WGS_1984"]]`, want: "EPSG:4326"},
		{name: "nested authority only", wkt: `PROJCS["Custom",GEOGCS["WGS 84",AUTHORITY["EPSG","4326"]],UNIT["metre",1]]`, wantErr: true},
		{name: "other datum", wkt: `GEOGCS["GCS_Kalianpur_1975",DATUM["D_Kalianpur_1975"]]`, wantErr: true},
		{name: "bad utm zone", wkt: `PROJCS["WGS_1984_UTM_Zone_61N",GEOGCS["GCS_WGS_1984"]]`, wantErr: true},
		{name: "empty", wkt: "  ", wantErr: true},
		{name: "garbage", wkt: "hello", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePRJ(tt.wkt)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePRJ() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePRJ() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateRing(t *testing.T) {
	tests := []struct {
		name    string
		ring    orb.Ring
		wantErr string
	}{
		{
			name: "square",
			ring: orb.Ring{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}},
		},
		{
			name: "concave",
			ring: orb.Ring{{0, 0}, {0, 4}, {2, 2}, {4, 4}, {4, 0}, {0, 0}},
		},
		{
			name: "repeated vertex",
			ring: orb.Ring{{0, 0}, {0, 1}, {0, 1}, {1, 1}, {1, 0}, {0, 0}},
		},
		{
			name: "repeated closing position",
			ring: orb.Ring{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}, {0, 0}},
		},
		{
			name:    "only two distinct positions",
			ring:    orb.Ring{{0, 0}, {1, 1}, {1, 1}, {0, 0}},
			wantErr: "distinct positions",
		},
		{
			name:    "too short",
			ring:    orb.Ring{{0, 0}, {1, 1}, {0, 0}},
			wantErr: "at least 4",
		},
		{
			name:    "open",
			ring:    orb.Ring{{0, 0}, {0, 1}, {1, 1}, {1, 0}},
			wantErr: "not closed",
		},
		{
			name:    "collinear",
			ring:    orb.Ring{{0, 0}, {1, 1}, {2, 2}, {0, 0}},
			wantErr: "zero area",
		},
		{
			name:    "crossing edges",
			ring:    orb.Ring{{0, 0}, {4, 0}, {4, 4}, {2, -1}, {0, 4}, {0, 0}},
			wantErr: "self-intersects",
		},
		{
			name:    "touching vertex",
			ring:    orb.Ring{{0, 0}, {4, 0}, {4, 4}, {2, 0}, {0, 4}, {0, 0}},
			wantErr: "self-intersects",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRing(tt.ring)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateRing() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateRing() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
