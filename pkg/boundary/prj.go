package boundary

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCRS is assumed when a shapefile has no .prj sidecar.
const DefaultCRS = "EPSG:4326"

var (
	authorityRe = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	projcsRe    = regexp.MustCompile(`^\s*PROJCS\[\s*"([^"]*)"`)
	geogcsRe    = regexp.MustCompile(`^\s*GEOGCS\[\s*"([^"]*)"`)
	utmRe       = regexp.MustCompile(`(?i)^WGS[ _]?(?:19)?84[ _/]+UTM[ _]zone[ _](\d{1,2})([NS])$`)
)

// ParsePRJ maps the WKT of a .prj file to an EPSG code.
//
// The top-level AUTHORITY wins when present. Otherwise WGS 84 geographic
// systems map to EPSG:4326 and WGS 84 UTM zones to EPSG:326xx/327xx.
// Anything else is unsupported.
func ParsePRJ(wkt string) (string, error) {
	wkt = strings.TrimSpace(wkt)
	if wkt == "" {
		return "", fmt.Errorf("empty projection definition")
	}

	if locs := authorityRe.FindAllStringSubmatchIndex(wkt, -1); len(locs) > 0 {
		// The CRS's own authority is the last child of the root node.
		last := locs[len(locs)-1]
		if strings.TrimSpace(wkt[last[1]:]) == "]" {
			return "EPSG:" + wkt[last[2]:last[3]], nil
		}
	}

	if m := projcsRe.FindStringSubmatch(wkt); m != nil {
		name := strings.TrimSpace(m[1])
		if u := utmRe.FindStringSubmatch(name); u != nil {
			zone, _ := strconv.Atoi(u[1])
			if zone < 1 || zone > 60 {
				return "", fmt.Errorf("invalid UTM zone %d in %q", zone, name)
			}
			if strings.EqualFold(u[2], "N") {
				return fmt.Sprintf("EPSG:%d", 32600+zone), nil
			}
			return fmt.Sprintf("EPSG:%d", 32700+zone), nil
		}
		return "", fmt.Errorf("unrecognized projected system %q", name)
	}

	if m := geogcsRe.FindStringSubmatch(wkt); m != nil {
		switch strings.ToUpper(strings.TrimSpace(m[1])) {
		case "GCS_WGS_1984", "WGS 84", "WGS84", "WGS_1984":
			return DefaultCRS, nil
		}
		return "", fmt.Errorf("unrecognized geographic system %q", m[1])
	}

	return "", fmt.Errorf("unrecognized projection definition")
}

// readCRS resolves the CRS of a shapefile from its .prj sidecar.
func readCRS(shpPath string) (string, error) {
	prjPath := strings.TrimSuffix(shpPath, ".shp") + ".prj"
	data, err := os.ReadFile(prjPath)
	if os.IsNotExist(err) {
		return DefaultCRS, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", prjPath, err)
	}
	return ParsePRJ(string(data))
}
