package earthengine

import (
	"github.com/trendfire/trendfire/pkg/earthengine/expr"
)

// FileFormat values accepted by fileExportOptions.
const (
	FileFormatGeoTIFF = "GEO_TIFF"
)

// Operation states reported in operation metadata.
const (
	StatePending    = "PENDING"
	StateRunning    = "RUNNING"
	StateCancelling = "CANCELLING"
	StateSucceeded  = "SUCCEEDED"
	StateCancelled  = "CANCELLED"
	StateFailed     = "FAILED"
)

// ExportImageRequest is the body of projects.image.export.
type ExportImageRequest struct {
	Expression         *expr.Expression    `json:"expression"`
	Description        string              `json:"description,omitempty"`
	MaxPixels          int64               `json:"maxPixels,string,omitempty"`
	RequestID          string              `json:"requestId,omitempty"`
	AssetExportOptions *AssetExportOptions `json:"assetExportOptions,omitempty"`
	FileExportOptions  *FileExportOptions  `json:"fileExportOptions,omitempty"`
}

// AssetExportOptions writes the result to an Earth Engine asset.
type AssetExportOptions struct {
	EarthEngineDestination *EarthEngineDestination `json:"earthEngineDestination"`
}

// EarthEngineDestination names the target asset, e.g.
// projects/my-project/assets/trends/all.
type EarthEngineDestination struct {
	Name string `json:"name"`
}

// FileExportOptions writes the result to files.
type FileExportOptions struct {
	FileFormat       string            `json:"fileFormat"`
	DriveDestination *DriveDestination `json:"driveDestination,omitempty"`
}

// DriveDestination is a Google Drive folder and file prefix.
type DriveDestination struct {
	Folder         string `json:"folder,omitempty"`
	FilenamePrefix string `json:"filenamePrefix"`
}

// Operation is a long-running job handle.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done,omitempty"`
	Metadata *OperationMetadata `json:"metadata,omitempty"`
	Error    *Status            `json:"error,omitempty"`
}

// OperationMetadata is the Earth Engine flavour of operation metadata.
type OperationMetadata struct {
	Type        string  `json:"@type,omitempty"`
	State       string  `json:"state,omitempty"`
	Description string  `json:"description,omitempty"`
	Progress    float64 `json:"progress,omitempty"`
	CreateTime  string  `json:"createTime,omitempty"`
	UpdateTime  string  `json:"updateTime,omitempty"`
	StartTime   string  `json:"startTime,omitempty"`
	EndTime     string  `json:"endTime,omitempty"`
	ScriptURI   string  `json:"scriptUri,omitempty"`
}

// State returns the reported state, deriving one for finished operations
// that carry no metadata.
func (o *Operation) State() string {
	if o.Metadata != nil && o.Metadata.State != "" {
		return o.Metadata.State
	}
	switch {
	case o.Done && o.Error != nil:
		return StateFailed
	case o.Done:
		return StateSucceeded
	default:
		return StatePending
	}
}

// Status is a google.rpc.Status.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type errorEnvelope struct {
	Error *Status `json:"error"`
}
