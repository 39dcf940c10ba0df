package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"pipeline-proxy/internal/identity"
	"pipeline-proxy/pkg/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Connect opens a connection pool and checks that the database answers.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PostgresStore is the PostgreSQL implementation of Store.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Pipelines

const pipelineColumns = `id, uuid, organization_uuid, pipeline_uuid, name, created_at, updated_at`

func scanPipeline(row pgx.Row) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := row.Scan(&p.ID, &p.UUID, &p.OrganizationUUID, &p.PipelineUUID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePipeline inserts a pipeline already bound to its remote id.
func (s *PostgresStore) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO organization_pipeline (uuid, organization_uuid, pipeline_uuid, name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		p.UUID, p.OrganizationUUID, p.PipelineUUID, p.Name,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert pipeline %s: %w", p.UUID, identity.ErrAlreadyBound)
	}
	if err != nil {
		return fmt.Errorf("insert pipeline %s: %w", p.UUID, err)
	}
	return nil
}

// GetPipeline loads a pipeline by local id within an organization.
func (s *PostgresStore) GetPipeline(ctx context.Context, organizationUUID, uuid string) (*models.Pipeline, error) {
	p, err := scanPipeline(s.db.QueryRow(ctx,
		`SELECT `+pipelineColumns+` FROM organization_pipeline WHERE organization_uuid = $1 AND uuid = $2`,
		organizationUUID, uuid))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ListPipelines returns an organization's pipelines, oldest first.
func (s *PostgresStore) ListPipelines(ctx context.Context, organizationUUID string, filter models.PipelineFilter) ([]*models.Pipeline, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+pipelineColumns+` FROM organization_pipeline
		 WHERE organization_uuid = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		 ORDER BY id
		 LIMIT $3 OFFSET $4`,
		organizationUUID, filter.Name, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var pipelines []*models.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

// UpdatePipeline stores the name and refreshes updated_at.
func (s *PostgresStore) UpdatePipeline(ctx context.Context, p *models.Pipeline) error {
	err := s.db.QueryRow(ctx,
		`UPDATE organization_pipeline SET name = $2, updated_at = now() WHERE id = $1 RETURNING updated_at`,
		p.ID, p.Name,
	).Scan(&p.UpdatedAt)
	return notFound(err)
}

// DeletePipeline removes the pipeline and, by cascade, everything it owns.
func (s *PostgresStore) DeletePipeline(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM organization_pipeline WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete pipeline %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Runs

const runColumns = `id, uuid, organization_pipeline_id, pipeline_run_uuid, is_deleted, created_at, updated_at`

func scanRun(row pgx.Row) (*models.PipelineRun, error) {
	var r models.PipelineRun
	var remote *string
	if err := row.Scan(&r.ID, &r.UUID, &r.PipelineID, &remote, &r.IsDeleted, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.PipelineRunUUID = deref(remote)
	return &r, nil
}

// CreateRun inserts the run and its initial pending post-processing entry.
func (s *PostgresStore) CreateRun(ctx context.Context, r *models.PipelineRun) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO organization_pipeline_run (uuid, organization_pipeline_id, pipeline_run_uuid)
			 VALUES ($1, $2, $3)
			 RETURNING id, created_at, updated_at`,
			r.UUID, r.PipelineID, nullable(r.PipelineRunUUID),
		).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("insert run %s: %w", r.UUID, identity.ErrAlreadyBound)
		}
		if err != nil {
			return fmt.Errorf("insert run %s: %w", r.UUID, err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO organization_pipeline_run_post_processing_state
			   (organization_pipeline_run_id, from_state, to_state, message)
			 VALUES ($1, NULL, $2, $3)`,
			r.ID, models.PostProcessingPending, "run created")
		if err != nil {
			return fmt.Errorf("insert initial post-processing state: %w", err)
		}
		return nil
	})
}

// GetRun loads a visible run of a pipeline.
func (s *PostgresStore) GetRun(ctx context.Context, pipelineID int64, uuid string) (*models.PipelineRun, error) {
	r, err := scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM organization_pipeline_run
		 WHERE organization_pipeline_id = $1 AND uuid = $2 AND NOT is_deleted`,
		pipelineID, uuid))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// GetRunByUUID loads a run by local id regardless of pipeline.
func (s *PostgresStore) GetRunByUUID(ctx context.Context, uuid string, includeDeleted bool) (*models.PipelineRun, error) {
	r, err := scanRun(s.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM organization_pipeline_run
		 WHERE uuid = $1 AND ($2 OR NOT is_deleted)`,
		uuid, includeDeleted))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

// ListRuns returns the visible runs of a pipeline, oldest first.
func (s *PostgresStore) ListRuns(ctx context.Context, pipelineID int64) ([]*models.PipelineRun, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+runColumns+` FROM organization_pipeline_run
		 WHERE organization_pipeline_id = $1 AND NOT is_deleted
		 ORDER BY id`,
		pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.PipelineRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SoftDeleteRun hides a run from every listing and lookup.
func (s *PostgresStore) SoftDeleteRun(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE organization_pipeline_run SET is_deleted = true, updated_at = now()
		 WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("soft delete run %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BindRunRemote sets the remote id of a run once.
func (s *PostgresStore) BindRunRemote(ctx context.Context, id int64, remote string) error {
	if remote == "" {
		return fmt.Errorf("bind run %d: empty remote id", id)
	}
	var bound int64
	err := s.db.QueryRow(ctx,
		`UPDATE organization_pipeline_run SET pipeline_run_uuid = $2, updated_at = now()
		 WHERE id = $1 AND NOT is_deleted AND (pipeline_run_uuid IS NULL OR pipeline_run_uuid = $2)
		 RETURNING id`,
		id, remote).Scan(&bound)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("bind run %d: remote id %s belongs to another run: %w", id, remote, identity.ErrAlreadyBound)
	case errors.Is(err, pgx.ErrNoRows):
		var current *string
		lookupErr := s.db.QueryRow(ctx,
			`SELECT pipeline_run_uuid FROM organization_pipeline_run WHERE id = $1 AND NOT is_deleted`, id).Scan(&current)
		if lookupErr != nil {
			return notFound(lookupErr)
		}
		return fmt.Errorf("bind run %d to %s: %w", id, remote, identity.ErrAlreadyBound)
	case err != nil:
		return fmt.Errorf("bind run %d: %w", id, err)
	}
	return nil
}

// Post-processing

const stateColumns = `id, organization_pipeline_run_id, from_state, to_state, message, metadata, created_at`

func scanState(row pgx.Row) (*models.PostProcessingState, error) {
	var st models.PostProcessingState
	var from *string
	var to string
	if err := row.Scan(&st.ID, &st.RunID, &from, &to, &st.Message, &st.Metadata, &st.CreatedAt); err != nil {
		return nil, err
	}
	st.FromState = models.PostProcessingStatus(deref(from))
	st.State = models.PostProcessingStatus(to)
	return &st, nil
}

// CurrentPostProcessing returns the latest history entry of a run.
func (s *PostgresStore) CurrentPostProcessing(ctx context.Context, runID int64) (*models.PostProcessingState, error) {
	st, err := scanState(s.db.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM organization_pipeline_run_post_processing_state
		 WHERE organization_pipeline_run_id = $1 ORDER BY id DESC LIMIT 1`, runID))
	if err != nil {
		return nil, notFound(err)
	}
	return st, nil
}

// PostProcessingHistory returns every entry, oldest first.
func (s *PostgresStore) PostProcessingHistory(ctx context.Context, runID int64) ([]*models.PostProcessingState, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+stateColumns+` FROM organization_pipeline_run_post_processing_state
		 WHERE organization_pipeline_run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list post-processing history: %w", err)
	}
	defer rows.Close()

	var history []*models.PostProcessingState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, st)
	}
	return history, rows.Err()
}

// AppendPostProcessing appends entry under a row lock on the run.
func (s *PostgresStore) AppendPostProcessing(ctx context.Context, entry *models.PostProcessingState) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var locked int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM organization_pipeline_run WHERE id = $1 AND NOT is_deleted FOR UPDATE`,
			entry.RunID).Scan(&locked)
		if err != nil {
			return notFound(err)
		}

		var current string
		err = tx.QueryRow(ctx,
			`SELECT to_state FROM organization_pipeline_run_post_processing_state
			 WHERE organization_pipeline_run_id = $1 ORDER BY id DESC LIMIT 1`,
			entry.RunID).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read post-processing state: %w", err)
		}
		if models.PostProcessingStatus(current) != entry.FromState {
			return fmt.Errorf("%w: expected %q, found %q", ErrStaleState, entry.FromState, current)
		}

		var metadata any
		if len(entry.Metadata) > 0 {
			metadata = string(entry.Metadata)
		}
		return tx.QueryRow(ctx,
			`INSERT INTO organization_pipeline_run_post_processing_state
			   (organization_pipeline_run_id, from_state, to_state, message, metadata)
			 VALUES ($1, $2, $3, $4, $5::jsonb)
			 RETURNING id, created_at`,
			entry.RunID, nullable(string(entry.FromState)), string(entry.State), entry.Message, metadata,
		).Scan(&entry.ID, &entry.CreatedAt)
	})
}

// Input files

const inputFileColumns = `id, uuid, organization_pipeline_id, name, storage_key, size_bytes, created_at`

func scanInputFile(row pgx.Row) (*models.InputFile, error) {
	var f models.InputFile
	if err := row.Scan(&f.ID, &f.UUID, &f.PipelineID, &f.Name, &f.StorageKey, &f.SizeBytes, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateInputFile records a stored blob.
func (s *PostgresStore) CreateInputFile(ctx context.Context, f *models.InputFile) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO organization_pipeline_input_file (uuid, organization_pipeline_id, name, storage_key, size_bytes)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		f.UUID, f.PipelineID, f.Name, f.StorageKey, f.SizeBytes,
	).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert input file %s: %w", f.UUID, err)
	}
	return nil
}

// ListInputFiles returns a pipeline's input files, oldest first.
func (s *PostgresStore) ListInputFiles(ctx context.Context, pipelineID int64) ([]*models.InputFile, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+inputFileColumns+` FROM organization_pipeline_input_file
		 WHERE organization_pipeline_id = $1 ORDER BY id`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list input files: %w", err)
	}
	defer rows.Close()

	var files []*models.InputFile
	for rows.Next() {
		f, err := scanInputFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// GetInputFile loads one input file of a pipeline.
func (s *PostgresStore) GetInputFile(ctx context.Context, pipelineID int64, uuid string) (*models.InputFile, error) {
	f, err := scanInputFile(s.db.QueryRow(ctx,
		`SELECT `+inputFileColumns+` FROM organization_pipeline_input_file
		 WHERE organization_pipeline_id = $1 AND uuid = $2`, pipelineID, uuid))
	if err != nil {
		return nil, notFound(err)
	}
	return f, nil
}

// Charts

const chartColumns = `id, uuid, name, organization_pipeline_run_id, artifact_uuid, chart_type_code, chart_config, is_deleted, created_at, updated_at`

func scanChart(row pgx.Row) (*models.ArtifactChart, error) {
	var c models.ArtifactChart
	var chartType string
	if err := row.Scan(&c.ID, &c.UUID, &c.Name, &c.RunID, &c.ArtifactUUID, &chartType, &c.ChartConfig, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ChartType = models.ChartType(chartType)
	return &c, nil
}

// CreateChart inserts an artifact chart.
func (s *PostgresStore) CreateChart(ctx context.Context, c *models.ArtifactChart) error {
	var config any
	if len(c.ChartConfig) > 0 {
		config = string(c.ChartConfig)
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO artifact_chart (uuid, name, organization_pipeline_run_id, artifact_uuid, chart_type_code, chart_config)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		 RETURNING id, created_at, updated_at`,
		c.UUID, c.Name, c.RunID, c.ArtifactUUID, string(c.ChartType), config,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chart %s: %w", c.UUID, err)
	}
	return nil
}

// ListCharts returns the visible charts of a run.
func (s *PostgresStore) ListCharts(ctx context.Context, runID int64) ([]*models.ArtifactChart, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+chartColumns+` FROM artifact_chart
		 WHERE organization_pipeline_run_id = $1 AND NOT is_deleted ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list charts: %w", err)
	}
	defer rows.Close()

	var charts []*models.ArtifactChart
	for rows.Next() {
		c, err := scanChart(rows)
		if err != nil {
			return nil, err
		}
		charts = append(charts, c)
	}
	return charts, rows.Err()
}

// GetChart loads a visible chart of a run.
func (s *PostgresStore) GetChart(ctx context.Context, runID int64, uuid string) (*models.ArtifactChart, error) {
	c, err := scanChart(s.db.QueryRow(ctx,
		`SELECT `+chartColumns+` FROM artifact_chart
		 WHERE organization_pipeline_run_id = $1 AND uuid = $2 AND NOT is_deleted`, runID, uuid))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// SoftDeleteChart hides a chart from listings.
func (s *PostgresStore) SoftDeleteChart(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE artifact_chart SET is_deleted = true, updated_at = now() WHERE id = $1 AND NOT is_deleted`, id)
	if err != nil {
		return fmt.Errorf("soft delete chart %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Identity resolution

// RemoteID implements identity.Resolver. Soft-deleted runs do not resolve.
func (s *PostgresStore) RemoteID(ctx context.Context, org string, kind identity.Kind, local string) (string, error) {
	var query string
	switch kind {
	case identity.KindPipeline:
		query = `SELECT pipeline_uuid FROM organization_pipeline
			WHERE uuid = $1 AND ($2::text = '' OR organization_uuid = $2::text)`
	case identity.KindRun:
		query = `SELECT r.pipeline_run_uuid
			FROM organization_pipeline_run r
			JOIN organization_pipeline p ON p.id = r.organization_pipeline_id
			WHERE r.uuid = $1 AND NOT r.is_deleted
			  AND ($2::text = '' OR p.organization_uuid = $2::text)`
	default:
		return "", fmt.Errorf("resolve %s: unsupported kind", kind)
	}
	var remote *string
	if err := s.db.QueryRow(ctx, query, local, org).Scan(&remote); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s %s", identity.ErrUnknown, kind, local)
		}
		return "", fmt.Errorf("resolve %s %s: %w", kind, local, err)
	}
	return deref(remote), nil
}

// LocalID implements identity.Resolver.
func (s *PostgresStore) LocalID(ctx context.Context, org string, kind identity.Kind, remote string) (string, error) {
	var query string
	switch kind {
	case identity.KindPipeline:
		query = `SELECT uuid FROM organization_pipeline
			WHERE pipeline_uuid = $1 AND ($2::text = '' OR organization_uuid = $2::text)`
	case identity.KindRun:
		query = `SELECT r.uuid
			FROM organization_pipeline_run r
			JOIN organization_pipeline p ON p.id = r.organization_pipeline_id
			WHERE r.pipeline_run_uuid = $1 AND NOT r.is_deleted
			  AND ($2::text = '' OR p.organization_uuid = $2::text)`
	default:
		return "", fmt.Errorf("resolve %s: unsupported kind", kind)
	}
	var local string
	if err := s.db.QueryRow(ctx, query, remote, org).Scan(&local); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: remote %s %s", identity.ErrUnknown, kind, remote)
		}
		return "", fmt.Errorf("resolve remote %s %s: %w", kind, remote, err)
	}
	return local, nil
}
