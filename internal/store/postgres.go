package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sooksun/teachermon-sub002/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, teacher_id, role, name, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TeacherID, &k.Role, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, teacher_id, role, name, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.TeacherID, key.Role, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// ListAPIKeys lists active keys, optionally narrowed to one teacher.
func (s *PostgresStore) ListAPIKeys(ctx context.Context, teacherID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		 WHERE deleted_at IS NULL AND ($1 = '' OR teacher_id = $1) ORDER BY created_at DESC`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, teacher_id, submitted_by, source_type, analysis_mode, status,
	original_filename, video_url, video_title, video_description, video_platform,
	evidence_type, indicator_codes, declared_bytes, raw_bytes, audio_bytes, frames_bytes,
	has_transcript, has_frames, has_report, has_cover,
	transcript_summary, analysis_report, evaluation_result, ai_advice, error_message,
	upload_reservation_id, created_at, uploaded_at, done_at, updated_at, version`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j              models.Job
		report, evalRs []byte
	)
	err := row.Scan(&j.ID, &j.TeacherID, &j.SubmittedBy, &j.SourceType, &j.AnalysisMode, &j.Status,
		&j.OriginalFilename, &j.VideoURL, &j.VideoTitle, &j.VideoDescription, &j.VideoPlatform,
		&j.EvidenceType, &j.IndicatorCodes, &j.DeclaredBytes, &j.RawBytes, &j.AudioBytes, &j.FramesBytes,
		&j.HasTranscript, &j.HasFrames, &j.HasReport, &j.HasCover,
		&j.TranscriptSummary, &report, &evalRs, &j.AIAdvice, &j.ErrorMessage,
		&j.UploadReservationID, &j.CreatedAt, &j.UploadedAt, &j.DoneAt, &j.UpdatedAt, &j.Version)
	if err != nil {
		return nil, err
	}
	if j.AnalysisReport, err = decodeDocument(report); err != nil {
		return nil, fmt.Errorf("decode analysis report: %w", err)
	}
	if j.EvaluationResult, err = decodeDocument(evalRs); err != nil {
		return nil, fmt.Errorf("decode evaluation result: %w", err)
	}
	return &j, nil
}

func decodeDocument(raw []byte) (*models.Document, error) {
	if raw == nil {
		return nil, nil
	}
	var d models.Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func encodeDocument(d *models.Document) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	report, err := encodeDocument(job.AnalysisReport)
	if err != nil {
		return fmt.Errorf("encode analysis report: %w", err)
	}
	evalRs, err := encodeDocument(job.EvaluationResult)
	if err != nil {
		return fmt.Errorf("encode evaluation result: %w", err)
	}
	codes := job.IndicatorCodes
	if codes == nil {
		codes = []string{}
	}
	if job.Version == 0 {
		job.Version = 1
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		         $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`,
		job.ID, job.TeacherID, job.SubmittedBy, job.SourceType, job.AnalysisMode, job.Status,
		job.OriginalFilename, job.VideoURL, job.VideoTitle, job.VideoDescription, job.VideoPlatform,
		job.EvidenceType, codes, job.DeclaredBytes, job.RawBytes, job.AudioBytes, job.FramesBytes,
		job.HasTranscript, job.HasFrames, job.HasReport, job.HasCover,
		job.TranscriptSummary, report, evalRs, job.AIAdvice, job.ErrorMessage,
		job.UploadReservationID, job.CreatedAt, job.UploadedAt, job.DoneAt, job.UpdatedAt, job.Version)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	report, err := encodeDocument(job.AnalysisReport)
	if err != nil {
		return fmt.Errorf("encode analysis report: %w", err)
	}
	evalRs, err := encodeDocument(job.EvaluationResult)
	if err != nil {
		return fmt.Errorf("encode evaluation result: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_jobs SET
		   status = $3, video_platform = $4, declared_bytes = $5,
		   raw_bytes = $6, audio_bytes = $7, frames_bytes = $8,
		   has_transcript = $9, has_frames = $10, has_report = $11, has_cover = $12,
		   transcript_summary = $13, analysis_report = $14, evaluation_result = $15,
		   ai_advice = $16, error_message = $17, upload_reservation_id = $18,
		   uploaded_at = $19, done_at = $20, updated_at = $21, version = version + 1
		 WHERE id = $1 AND version = $2`,
		job.ID, job.Version, job.Status, job.VideoPlatform, job.DeclaredBytes,
		job.RawBytes, job.AudioBytes, job.FramesBytes,
		job.HasTranscript, job.HasFrames, job.HasReport, job.HasCover,
		job.TranscriptSummary, report, evalRs,
		job.AIAdvice, job.ErrorMessage, job.UploadReservationID,
		job.UploadedAt, job.DoneAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM analysis_jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}
	job.Version++
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", argIdx))
		args = append(args, filter.TeacherID)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analysis_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, offset := filter.normalize()
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM analysis_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *PostgresStore) ListExpiredJobs(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE status IN ('DONE', 'FAILED') AND done_at < $1
		 ORDER BY done_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
