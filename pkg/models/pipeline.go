// Package models defines the locally persisted records of the pipeline proxy.
package models

import (
	"time"

	"pipeline-proxy/internal/identity"
)

// MaxNameLength is the width, in characters, of the pipeline and input file
// name columns.
const MaxNameLength = 255

// Pipeline is an organization's handle on a pipeline that lives in the
// workflow engine. PipelineUUID is the engine's id and is set once.
type Pipeline struct {
	ID               int64     `json:"-" db:"id"`
	UUID             string    `json:"uuid" db:"uuid"`
	OrganizationUUID string    `json:"organization_uuid" db:"organization_uuid"`
	PipelineUUID     string    `json:"-" db:"pipeline_uuid"`
	Name             string    `json:"name" db:"name"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Correlation returns the identity correlation held by the row.
func (p *Pipeline) Correlation() identity.Correlation {
	return identity.Correlation{Kind: identity.KindPipeline, Local: p.UUID, Remote: p.PipelineUUID}
}

// PipelineFilter narrows a pipeline listing.
type PipelineFilter struct {
	Name   string
	Limit  int
	Offset int
}

// PipelineRun is a local record of one execution in the workflow engine.
// PipelineRunUUID is empty for runs whose remote creation never completed.
type PipelineRun struct {
	ID              int64     `json:"-" db:"id"`
	UUID            string    `json:"uuid" db:"uuid"`
	PipelineID      int64     `json:"-" db:"organization_pipeline_id"`
	PipelineRunUUID string    `json:"-" db:"pipeline_run_uuid"`
	IsDeleted       bool      `json:"is_deleted" db:"is_deleted"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// Correlation returns the identity correlation held by the row.
func (r *PipelineRun) Correlation() identity.Correlation {
	return identity.Correlation{Kind: identity.KindRun, Local: r.UUID, Remote: r.PipelineRunUUID}
}

// InputFile is an uploaded file stored in the blob store on behalf of a pipeline.
type InputFile struct {
	ID         int64     `json:"-" db:"id"`
	UUID       string    `json:"uuid" db:"uuid"`
	PipelineID int64     `json:"-" db:"organization_pipeline_id"`
	Name       string    `json:"name" db:"name"`
	StorageKey string    `json:"-" db:"storage_key"`
	SizeBytes  int64     `json:"size_bytes" db:"size_bytes"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
