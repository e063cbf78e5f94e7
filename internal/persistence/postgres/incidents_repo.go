package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tradepulse/core/internal/persistence"
)

// incidentsRepo implements IncidentStore for PostgreSQL
type incidentsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewIncidentsRepo creates a PostgreSQL incident repository
func NewIncidentsRepo(db *sqlx.DB, timeout time.Duration) persistence.IncidentStore {
	return &incidentsRepo{db: db, timeout: timeout}
}

// Insert appends one incident record
func (r *incidentsRepo) Insert(ctx context.Context, incident persistence.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	detailsJSON, err := json.Marshal(incident.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal incident details: %w", err)
	}

	query := `
		INSERT INTO incidents (ts, kind, reason, details)
		VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query, incident.Timestamp, incident.Kind, incident.Reason, detailsJSON); err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

// ListRecent returns the newest incidents first
func (r *incidentsRepo) ListRecent(ctx context.Context, limit int) ([]persistence.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, kind, reason, details, created_at
		FROM incidents
		ORDER BY ts DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []persistence.Incident
	for rows.Next() {
		var inc persistence.Incident
		var detailsJSON []byte
		if err := rows.Scan(&inc.ID, &inc.Timestamp, &inc.Kind, &inc.Reason, &detailsJSON, &inc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &inc.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal incident details: %w", err)
			}
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return incidents, nil
}
