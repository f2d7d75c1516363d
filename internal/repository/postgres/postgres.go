package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadwatch/backend/internal/domain"
)

// PostgresRepository implements domain.IncidentRepository
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// SaveSnapshot persists all incidents of one cycle in a single batch.
func (r *PostgresRepository) SaveSnapshot(ctx context.Context, snapshot *domain.TrafficSnapshot) error {
	query := `
		INSERT INTO incidents (
			id, snapshot_at, latitude, longitude, category,
			delay_magnitude, source, region, status, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id, snapshot_at) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, inc := range snapshot.Incidents() {
		batch.Queue(query,
			inc.ID, snapshot.Timestamp, inc.Location.Latitude, inc.Location.Longitude,
			inc.Category, inc.DelayMagnitude, inc.Source, inc.Region, inc.Status, inc.Description,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres: failed to save snapshot incident: %w", err)
		}
	}
	return nil
}

// GetIncidentHistory retrieves archived incidents within a time range.
func (r *PostgresRepository) GetIncidentHistory(ctx context.Context, from, to time.Time) ([]domain.Incident, error) {
	query := `
		SELECT id, snapshot_at, latitude, longitude, category,
			   delay_magnitude, source, region, status, description
		FROM incidents
		WHERE snapshot_at BETWEEN $1 AND $2
		ORDER BY snapshot_at DESC
		LIMIT 500
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query incidents: %w", err)
	}
	defer rows.Close()

	var results []domain.Incident
	for rows.Next() {
		var inc domain.Incident
		err := rows.Scan(
			&inc.ID, &inc.Timestamp, &inc.Location.Latitude, &inc.Location.Longitude,
			&inc.Category, &inc.DelayMagnitude, &inc.Source, &inc.Region, &inc.Status, &inc.Description,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan incident row: %w", err)
		}
		results = append(results, inc)
	}

	return results, nil
}

// Health checks database connectivity
func (r *PostgresRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: health check failed: %w", err)
	}
	return nil
}
