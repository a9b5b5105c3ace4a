package model

// Row is one record of tabular input keyed by column name.
type Row map[string]any

// ColumnClass is the detected role of one column in a dataset.
type ColumnClass string

const (
	ColumnIdentifier  ColumnClass = "identifier"
	ColumnDimension   ColumnClass = "dimension"
	ColumnEfficiency  ColumnClass = "efficiency"
	ColumnCost        ColumnClass = "cost"
	ColumnVolume      ColumnClass = "volume"
	ColumnComparative ColumnClass = "comparative"
	ColumnUnknown     ColumnClass = "unknown"
)

// MetricGroups buckets metric columns by what "good" means for each.
type MetricGroups struct {
	Efficiency  []string `json:"efficiency_metrics"`
	Cost        []string `json:"cost_metrics"`
	Volume      []string `json:"volume_metrics"`
	Comparative []string `json:"comparative_metrics"`
}

// Opportunity types surfaced during schema detection.
const (
	OpportunityComparativeGap = "comparative_gap"
	OpportunityOutlierScaling = "outlier_scaling"
)

// Opportunity is a quantified finding detected in the data.
type Opportunity struct {
	Type          string  `json:"type"`
	Description   string  `json:"description"`
	Magnitude     float64 `json:"magnitude"`
	AffectedCount int     `json:"affected_count"`
}

// TableSchema is the detected structure of an uploaded dataset. Built once
// per feature-extraction pass and immutable afterward.
type TableSchema struct {
	PrimaryDimension string        `json:"primary_dimension"`
	RowCount         int           `json:"row_count"`
	Dimensions       []string      `json:"dimensions"`
	Identifiers      []string      `json:"identifiers"`
	Metrics          MetricGroups  `json:"metrics"`
	Unclassified     []string      `json:"unclassified"`
	Opportunities    []Opportunity `json:"opportunities"`
}
