package models

// AssetFilters defines the available filter options for assets
type AssetFilters struct {
	Type  string `json:"type" schema:"type"`
	Model string `json:"model" schema:"model"`
	From  int    `json:"from" schema:"from"`
	Size  int    `json:"size" schema:"size"`
}

// Page selects a window of a listing
type Page struct {
	From int `json:"from" schema:"from"`
	Size int `json:"size" schema:"size"`
}
