package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ChartType is the closed set of chart codes an artifact chart may use.
type ChartType string

const (
	ChartTypeLine      ChartType = "LINE"
	ChartTypeBar       ChartType = "BAR"
	ChartTypeScatter   ChartType = "SCATTER"
	ChartTypeHistogram ChartType = "HISTOGRAM"
	ChartTypeHeatmap   ChartType = "HEATMAP"
	ChartTypeTable     ChartType = "TABLE"
)

// ChartTypes lists every recognized chart code.
var ChartTypes = []ChartType{
	ChartTypeLine,
	ChartTypeBar,
	ChartTypeScatter,
	ChartTypeHistogram,
	ChartTypeHeatmap,
	ChartTypeTable,
}

// ParseChartType accepts a chart code in any case.
func ParseChartType(s string) (ChartType, bool) {
	code := ChartType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range ChartTypes {
		if t == code {
			return t, true
		}
	}
	return "", false
}

// MaxChartNameLength mirrors the width of the name column.
const MaxChartNameLength = 128

// ArtifactChart describes how to render one artifact produced by a run.
type ArtifactChart struct {
	ID           int64           `json:"-" db:"id"`
	UUID         string          `json:"uuid" db:"uuid"`
	Name         string          `json:"name" db:"name"`
	RunID        int64           `json:"-" db:"organization_pipeline_run_id"`
	ArtifactUUID string          `json:"artifact_uuid" db:"artifact_uuid"`
	ChartType    ChartType       `json:"chart_type_code" db:"chart_type_code"`
	ChartConfig  json.RawMessage `json:"chart_config,omitempty" db:"chart_config"`
	IsDeleted    bool            `json:"-" db:"is_deleted"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}
