package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelstudio/internal/domain"
	"github.com/dunamismax/pixelstudio/internal/effect"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// sqlJobStore holds the queries shared by the Postgres and SQLite stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlJobStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlJobStore) Close() error {
	return s.db.Close()
}

func (s *sqlJobStore) Create(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(
		ctx,
		s.rebind(`INSERT INTO jobs (id, user_id, status, source_type, webhook_url, effect, brightness, scale, object_key, output_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID,
		job.UserID,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		string(job.Effect),
		job.Params.Brightness,
		job.Params.Scale,
		job.ObjectKey,
		job.OutputKey,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *sqlJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.rebind(`SELECT id, user_id, status, source_type, webhook_url, effect, brightness, scale, object_key, output_key, created_at, updated_at
		 FROM jobs
		 WHERE id = ?`),
		id,
	)

	var (
		job       domain.Job
		effectOpt string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&effectOpt,
		&job.Params.Brightness,
		&job.Params.Scale,
		&job.ObjectKey,
		&job.OutputKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}
	job.Effect = effect.Option(effectOpt)

	return job, true, nil
}

func (s *sqlJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.rebind(`UPDATE jobs
		 SET status = ?, updated_at = ?
		 WHERE id = ?`),
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	if err := requireRow(res); err != nil {
		return domain.Job{}, err
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *sqlJobStore) SetOutput(ctx context.Context, id, outputKey string) error {
	res, err := s.db.ExecContext(
		ctx,
		s.rebind(`UPDATE jobs
		 SET output_key = ?, updated_at = ?
		 WHERE id = ?`),
		outputKey,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update job output: %w", err)
	}
	return requireRow(res)
}

func (s *sqlJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		s.rebind(`INSERT INTO usage_logs (user_id, job_id, effect, pixels_processed, input_bytes, output_bytes, compute_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		usage.UserID,
		usage.JobID,
		usage.Effect,
		usage.PixelsProcessed,
		usage.InputBytes,
		usage.OutputBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *sqlJobStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar rewrites ? placeholders as $1, $2, ...
func rebindDollar(query string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 16)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
