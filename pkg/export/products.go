package export

import (
	"fmt"
)

// Product names one logical export.
type Product string

// Products exported by a run.
const (
	ProductLandsat Product = "landsat"
	ProductRain    Product = "rain"
	ProductSM      Product = "sm"
	ProductRH      Product = "rh"
	ProductAll     Product = "all"
)

// Products returns every product in submission order.
func Products() []Product {
	return []Product{ProductLandsat, ProductRain, ProductSM, ProductRH, ProductAll}
}

// ParseProduct converts a name into a Product.
func ParseProduct(name string) (Product, error) {
	for _, p := range Products() {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProduct, name)
}

// Target is where one product is written.
type Target struct {
	// AssetID is relative to the asset root.
	AssetID string `json:"asset_id" yaml:"asset_id" validate:"required"`

	// Description is the task description shown by the service.
	Description string `json:"description" yaml:"description" validate:"required"`

	// FilePrefix names Drive files; defaults to AssetID.
	FilePrefix string `json:"file_prefix,omitempty" yaml:"file_prefix,omitempty"`
}

func (t Target) filePrefix() string {
	if t.FilePrefix != "" {
		return t.FilePrefix
	}
	return t.AssetID
}

// DefaultTargets returns the asset ids and descriptions of each product.
func DefaultTargets() map[Product]Target {
	return map[Product]Target{
		ProductLandsat: {AssetID: "Trend2023_landsat", Description: "Landsat_Trends_2023"},
		ProductRain:    {AssetID: "Trend2022_rain_new", Description: "Precipitation_Trend_1982_2022"},
		ProductSM:      {AssetID: "Trend2023_SM_new", Description: "SM_Trend2015_2023"},
		ProductRH:      {AssetID: "Trend2024_RH_new", Description: "RH_Trend1980_2023"},
		ProductAll:     {AssetID: "Trend2024_all_new", Description: "All_Trends_2024"},
	}
}
