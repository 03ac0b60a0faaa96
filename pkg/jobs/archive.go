package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"reservoir/pkg/apperror"
	"reservoir/pkg/database"
	"reservoir/pkg/domain"
	"reservoir/pkg/telemetry"
)

// Record терминальная задача для архива
type Record struct {
	ID              string
	Backend         string
	BackendVersion  string
	RequestHash     string
	Title           string
	Status          domain.Status
	Error           string
	Cached          bool
	CellCount       int
	TimestepCount   int
	WallTimeSeconds float64
	Converged       bool
	Request         *domain.SimRequest
	Result          *domain.UnifiedResult
	Warnings        []string
	SubmittedAt     time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
}

// RecordSummary строка списка архива
type RecordSummary struct {
	ID            string
	Backend       string
	Title         string
	Status        domain.Status
	Cached        bool
	CellCount     int
	TimestepCount int
	FinishedAt    time.Time
}

// Archive хранилище завершённых задач
type Archive interface {
	Save(ctx context.Context, rec *Record) error
}

// PostgresArchive архив в таблице simulation_jobs
type PostgresArchive struct {
	db database.DB
}

// NewPostgresArchive создаёт архив поверх DB
func NewPostgresArchive(db database.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

const insertJobSQL = `
		INSERT INTO simulation_jobs (
			id, backend, backend_version, request_hash, title,
			status, error, cached, cell_count, timestep_count,
			wall_time_sec, converged, request_data, result_data,
			submitted_at, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`

const insertWarningSQL = `
		INSERT INTO simulation_job_warnings (job_id, position, message)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`

// Save записывает задачу и её предупреждения в одной транзакции.
// Повторная запись той же задачи ничего не меняет.
func (a *PostgresArchive) Save(ctx context.Context, rec *Record) error {
	ctx, span := telemetry.StartSpan(ctx, "PostgresArchive.Save",
		telemetry.WithAttributes(telemetry.JobAttributes(rec.ID, rec.Backend)...))

	requestData, err := json.Marshal(rec.Request)
	if err != nil {
		err = fmt.Errorf("failed to marshal request: %w", err)
		telemetry.EndSpan(span, err)
		return err
	}
	var resultData []byte
	if rec.Result != nil {
		stored := *rec.Result
		stored.Request = nil
		if resultData, err = json.Marshal(&stored); err != nil {
			err = fmt.Errorf("failed to marshal result: %w", err)
			telemetry.EndSpan(span, err)
			return err
		}
	}
	var startedAt *time.Time
	if !rec.StartedAt.IsZero() {
		startedAt = &rec.StartedAt
	}

	err = database.WithTransaction(ctx, a.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertJobSQL,
			rec.ID,
			rec.Backend,
			rec.BackendVersion,
			rec.RequestHash,
			rec.Title,
			string(rec.Status),
			rec.Error,
			rec.Cached,
			rec.CellCount,
			rec.TimestepCount,
			rec.WallTimeSeconds,
			rec.Converged,
			requestData,
			resultData,
			rec.SubmittedAt,
			startedAt,
			rec.FinishedAt,
		); err != nil {
			return fmt.Errorf("failed to archive job: %w", err)
		}
		for i, w := range rec.Warnings {
			if _, err := tx.Exec(ctx, insertWarningSQL, rec.ID, i, w); err != nil {
				return fmt.Errorf("failed to archive warning: %w", err)
			}
		}
		return nil
	})
	telemetry.EndSpan(span, err)
	return err
}

// Get читает задачу с запросом, результатом и предупреждениями
func (a *PostgresArchive) Get(ctx context.Context, id string) (*Record, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresArchive.Get")
	defer span.End()

	query := `
		SELECT
			id, backend, backend_version, request_hash, title,
			status, error, cached, cell_count, timestep_count,
			wall_time_sec, converged, request_data, result_data,
			submitted_at, started_at, finished_at
		FROM simulation_jobs
		WHERE id = $1
	`

	rec := &Record{}
	var (
		status      string
		requestData []byte
		resultData  []byte
		startedAt   pgtype.Timestamptz
	)
	err := a.db.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.Backend,
		&rec.BackendVersion,
		&rec.RequestHash,
		&rec.Title,
		&status,
		&rec.Error,
		&rec.Cached,
		&rec.CellCount,
		&rec.TimestepCount,
		&rec.WallTimeSeconds,
		&rec.Converged,
		&requestData,
		&resultData,
		&rec.SubmittedAt,
		&startedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.Newf(apperror.CodeJobNotFound, "job %s is not archived", id)
		}
		return nil, fmt.Errorf("failed to get archived job: %w", err)
	}

	rec.Status = domain.Status(status)
	if startedAt.Valid {
		rec.StartedAt = startedAt.Time
	}
	if len(requestData) > 0 {
		rec.Request = &domain.SimRequest{}
		if err := json.Unmarshal(requestData, rec.Request); err != nil {
			return nil, fmt.Errorf("failed to decode archived request: %w", err)
		}
	}
	if len(resultData) > 0 {
		rec.Result = &domain.UnifiedResult{}
		if err := json.Unmarshal(resultData, rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode archived result: %w", err)
		}
		rec.Result.Request = rec.Request
	}

	rows, err := a.db.Query(ctx,
		`SELECT message FROM simulation_job_warnings WHERE job_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job warnings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("failed to scan warning: %w", err)
		}
		rec.Warnings = append(rec.Warnings, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read warnings: %w", err)
	}

	return rec, nil
}

// ListRecent последние задачи, опционально по одному бэкенду
func (a *PostgresArchive) ListRecent(ctx context.Context, backendName string, limit int) ([]*RecordSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "PostgresArchive.ListRecent")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	where := "TRUE"
	args := []any{}
	argNum := 1
	if backendName != "" {
		where = fmt.Sprintf("backend = $%d", argNum)
		args = append(args, backendName)
		argNum++
	}

	query := fmt.Sprintf(`
		SELECT id, backend, title, status, cached, cell_count, timestep_count, finished_at
		FROM simulation_jobs
		WHERE %s
		ORDER BY finished_at DESC
		LIMIT $%d
	`, where, argNum)
	args = append(args, limit)

	rows, err := a.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived jobs: %w", err)
	}
	defer rows.Close()

	var out []*RecordSummary
	for rows.Next() {
		s := &RecordSummary{}
		var status string
		if err := rows.Scan(&s.ID, &s.Backend, &s.Title, &status, &s.Cached,
			&s.CellCount, &s.TimestepCount, &s.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan archived job: %w", err)
		}
		s.Status = domain.Status(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// newRecord собирает запись архива из завершённой задачи
func newRecord(j *job) *Record {
	st := j.snapshot()
	res, _ := j.terminalResult()

	rec := &Record{
		ID:             st.ID,
		Backend:        st.Backend,
		BackendVersion: j.backend.Version(),
		RequestHash:    domain.RequestHash(j.req, st.Backend),
		Title:          st.Title,
		Status:         st.State,
		Error:          st.Error,
		Cached:         st.Cached,
		CellCount:      j.req.Grid.TotalCells(),
		Request:        j.req,
		SubmittedAt:    st.SubmittedAt,
		StartedAt:      st.StartedAt,
		FinishedAt:     st.FinishedAt,
	}
	if res != nil {
		rec.Result = res
		rec.TimestepCount = len(res.Timesteps)
		rec.WallTimeSeconds = res.Metadata.WallTimeSeconds
		rec.Converged = res.Metadata.Converged
		rec.Warnings = res.Metadata.Warnings
		if res.Metadata.BackendVersion != "" {
			rec.BackendVersion = res.Metadata.BackendVersion
		}
	}
	return rec
}
