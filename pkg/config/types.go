package config

import (
	"fmt"
	"strings"

	"github.com/trendfire/trendfire/pkg/trend"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "trendfire.cue"

// PipelineConfig is the complete configuration of a run.
type PipelineConfig struct {
	// Project is the Cloud project requests are billed to.
	Project string `json:"project" validate:"required"`

	// CredentialsFile is a service-account key. Empty means Application
	// Default Credentials.
	CredentialsFile string `json:"credentials_file,omitempty"`

	Boundary     BoundaryConfig  `json:"boundary"`
	Landsat      LandsatConfig   `json:"landsat"`
	Rain         RainConfig      `json:"rain"`
	SoilMoisture WindowConfig    `json:"soil_moisture"`
	Humidity     HumidityConfig  `json:"humidity"`
	Export       ExportConfig    `json:"export"`
	Policy       PolicyConfig    `json:"policy"`
	Ledger       LedgerConfig    `json:"ledger"`
	Telemetry    TelemetryConfig `json:"telemetry"`
}

// BoundaryConfig locates the region of interest.
type BoundaryConfig struct {
	// Path is a local file or an sftp:// URL.
	Path string `json:"path" validate:"required"`

	// SFTP holds credentials for sftp:// paths.
	SFTP *SFTPConfig `json:"sftp,omitempty"`
}

// SFTPConfig configures remote boundary fetches.
type SFTPConfig struct {
	Port           int    `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	PrivateKeyPath string `json:"private_key,omitempty"`
	KnownHostsPath string `json:"known_hosts,omitempty"`
	PasswordEnv    string `json:"password_env,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" validate:"omitempty,min=1"`
}

// WindowConfig overrides the dataset and time window of one source. Empty
// fields keep the source defaults.
type WindowConfig struct {
	Collection    string           `json:"collection,omitempty"`
	Start         string           `json:"start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	End           string           `json:"end,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TimeReference string           `json:"time_reference,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Variables     []trend.Variable `json:"variables,omitempty" validate:"dive"`
}

// Options converts the window into trend source options.
func (w WindowConfig) Options() trend.Options {
	return trend.Options{
		CollectionID:  w.Collection,
		Start:         w.Start,
		End:           w.End,
		TimeReference: w.TimeReference,
		Variables:     w.Variables,
	}
}

// LandsatConfig configures the Landsat source.
type LandsatConfig struct {
	WindowConfig

	CloudCover    float64       `json:"cloud_cover" validate:"gt=0,lte=100"`
	SMI           string        `json:"smi" validate:"oneof=shortwave thermal"`
	CustomIndices []CustomIndex `json:"custom_indices,omitempty" validate:"dive"`
}

// CustomIndex is a user-defined spectral index written in Starlark.
type CustomIndex struct {
	Name   string `json:"name" validate:"required"`
	Script string `json:"script" validate:"required"`
}

// RainConfig configures the CHIRPS source.
type RainConfig struct {
	WindowConfig

	FirstYear int `json:"first_year" validate:"gte=1981"`
	LastYear  int `json:"last_year" validate:"gtefield=FirstYear"`
}

// HumidityConfig configures the ERA5-Land source.
type HumidityConfig struct {
	WindowConfig

	// Celsius converts the kelvin temperature bands before the Magnus
	// formula.
	Celsius bool `json:"celsius"`
}

// ExportConfig configures export tasks.
type ExportConfig struct {
	AssetRoot   string                  `json:"asset_root"`
	Scale       float64                 `json:"scale" validate:"gt=0"`
	MaxPixels   int64                   `json:"max_pixels" validate:"gt=0"`
	Drive       bool                    `json:"drive"`
	DriveFolder string                  `json:"drive_folder" validate:"required"`
	Targets     map[string]TargetConfig `json:"targets,omitempty" validate:"dive,keys,oneof=landsat rain sm rh all,endkeys"`
}

// TargetConfig overrides where one product is written.
type TargetConfig struct {
	AssetID     string `json:"asset_id" validate:"required"`
	Description string `json:"description" validate:"required"`
	FilePrefix  string `json:"file_prefix,omitempty"`
}

// PolicyConfig configures export policy checks.
type PolicyConfig struct {
	Enabled        bool     `json:"enabled"`
	Paths          []string `json:"paths,omitempty"`
	Disabled       []string `json:"disabled,omitempty"`
	MaxPixelsLimit int64    `json:"max_pixels_limit" validate:"gt=0"`
}

// LedgerConfig locates the run ledger.
type LedgerConfig struct {
	Path string `json:"path" validate:"required"`
}

// TelemetryConfig configures logging, tracing and metrics.
type TelemetryConfig struct {
	LogLevel        string `json:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat       string `json:"log_format" validate:"oneof=console json"`
	Tracing         string `json:"tracing" validate:"oneof=none stdout otlp"`
	OTLPEndpoint    string `json:"otlp_endpoint,omitempty" validate:"required_if=Tracing otlp"`
	MetricsAddress  string `json:"metrics_address,omitempty" validate:"omitempty,hostname_port"`
	MetricsTextfile string `json:"metrics_textfile,omitempty"`
}

// Default returns the configuration used when no file is given. Project
// must still be supplied, usually through EE_PROJECT.
func Default() *PipelineConfig {
	return &PipelineConfig{
		Boundary: BoundaryConfig{Path: "data/pa_boundary.shp"},
		Landsat: LandsatConfig{
			CloudCover: 10,
			SMI:        string(trend.SMIMethodShortwave),
		},
		Rain: RainConfig{FirstYear: 1982, LastYear: 2021},
		Export: ExportConfig{
			Scale:       30,
			MaxPixels:   1e13,
			DriveFolder: "GEE_Exports",
		},
		Policy: PolicyConfig{
			Enabled:        true,
			MaxPixelsLimit: 1e13,
		},
		Ledger: LedgerConfig{Path: ".trendfire/ledger.db"},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Tracing:   "none",
		},
	}
}

// ValidationError is one problem found in a configuration, with its
// location when known.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path (e.g., "export.scale").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.File != "":
		loc = e.File + ": "
	}
	if e.Path != "" {
		return fmt.Sprintf("%s%s: %s", loc, e.Path, e.Message)
	}
	return loc + e.Message
}

// Error lists every problem found while loading a configuration.
type Error struct {
	Errors []ValidationError
}

func (e *Error) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, v := range e.Errors {
		msgs[i] = v.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
