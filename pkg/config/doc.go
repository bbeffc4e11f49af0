// Package config loads TrendFire pipeline configuration.
//
// # Overview
//
// Configuration is written in CUE, usually in a single trendfire.cue file.
// Every file is unified with an embedded #TrendFire schema that supplies
// defaults and rejects unknown fields, then decoded into a PipelineConfig
// and checked again with struct validation. Problems are reported as
// ValidationError values carrying the file, line and field path when known.
//
// A minimal configuration only names the Cloud project:
//
//	project: "goa-fire"
//
// A fuller one overrides source windows, export targets and policies:
//
//	project: "goa-fire"
//	boundary: path: "sftp://gis.example.org/shapes/pa_boundary.shp"
//	landsat: {
//	    cloud_cover: 20
//	    custom_indices: [{
//	        name:   "gndvi"
//	        script: "index = nd(\"SR_B5\", \"SR_B3\")"
//	    }]
//	}
//	export: {
//	    asset_root: "trendfire"
//	    drive:      true
//	    targets: rain: {asset_id: "rain_2025", description: "Rain_2025"}
//	}
//
// # Environment
//
// EE_PROJECT, GOOGLE_APPLICATION_CREDENTIALS and LOG_LEVEL override file
// values. They are read from a .env file when present and from the process
// environment, which takes precedence.
//
// # Custom Indices
//
// IndexCompiler evaluates the Starlark scripts of custom_indices into
// trend indices. Scripts run without filesystem or network access, with
// print suppressed and a timeout.
package config
