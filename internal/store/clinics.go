package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pawmark/vetbatch/internal/model"
	embedsql "github.com/pawmark/vetbatch/internal/sql"
)

// GetClinic fetches a clinic's scheduling configuration.
func (s *Store) GetClinic(ctx context.Context, clinicID int64) (*model.Clinic, error) {
	var c model.Clinic
	err := s.pool.QueryRow(ctx, embedsql.GetClinic, clinicID).Scan(
		&c.ClinicID, &c.Name, &c.Timezone,
		&c.WindowStartMin, &c.WindowEndMin, &c.MaxParallelTasks, &c.PIMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get clinic: %w", err)
	}
	return &c, nil
}

// ListClinics returns all clinics, ordered by id.
func (s *Store) ListClinics(ctx context.Context) ([]model.Clinic, error) {
	rows, err := s.pool.Query(ctx, embedsql.ListClinics)
	if err != nil {
		return nil, fmt.Errorf("list clinics: %w", err)
	}
	defer rows.Close()

	var clinics []model.Clinic
	for rows.Next() {
		var c model.Clinic
		if err := rows.Scan(&c.ClinicID, &c.Name, &c.Timezone,
			&c.WindowStartMin, &c.WindowEndMin, &c.MaxParallelTasks, &c.PIMS); err != nil {
			return nil, fmt.Errorf("list clinics scan: %w", err)
		}
		clinics = append(clinics, c)
	}
	return clinics, rows.Err()
}

// UpsertClinic writes a clinic's scheduling configuration.
func (s *Store) UpsertClinic(ctx context.Context, c model.Clinic) error {
	_, err := s.pool.Exec(ctx, embedsql.UpsertClinic,
		c.ClinicID, c.Name, c.Timezone,
		c.WindowStartMin, c.WindowEndMin, c.MaxParallelTasks, c.PIMS)
	if err != nil {
		return fmt.Errorf("upsert clinic: %w", err)
	}
	return nil
}
