package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drive-warden/internal/model"
)

type TemplateRepository struct {
	pool *pgxpool.Pool
}

func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

// Save stores a new immutable snapshot and makes it the active version in one
// transaction. Existing versions are never mutated.
func (r *TemplateRepository) Save(ctx context.Context, roots []model.TemplateNode, createdBy string) (model.TemplateVersion, error) {
	encoded, err := json.Marshal(roots)
	if err != nil {
		return model.TemplateVersion{}, fmt.Errorf("marshal template: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.TemplateVersion{}, fmt.Errorf("begin save template: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE template_versions SET is_active = false WHERE is_active`); err != nil {
		return model.TemplateVersion{}, fmt.Errorf("deactivate previous version: %w", err)
	}

	var version model.TemplateVersion
	err = tx.QueryRow(ctx,
		`INSERT INTO template_versions (is_active, template, created_by)
		 VALUES (true, $1, $2)
		 RETURNING version_number, created_at`,
		encoded, createdBy).Scan(&version.VersionNumber, &version.CreatedAt)
	if err != nil {
		return model.TemplateVersion{}, fmt.Errorf("insert template version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.TemplateVersion{}, fmt.Errorf("commit save template: %w", err)
	}

	version.IsActive = true
	version.Roots = roots
	version.CreatedBy = createdBy
	return version, nil
}

// GetActive returns the single active snapshot.
func (r *TemplateRepository) GetActive(ctx context.Context) (model.TemplateVersion, error) {
	return r.get(ctx, `SELECT version_number, is_active, template, created_by, created_at
		 FROM template_versions WHERE is_active`)
}

func (r *TemplateRepository) GetVersion(ctx context.Context, versionNumber int) (model.TemplateVersion, error) {
	return r.get(ctx, `SELECT version_number, is_active, template, created_by, created_at
		 FROM template_versions WHERE version_number = $1`, versionNumber)
}

func (r *TemplateRepository) get(ctx context.Context, query string, args ...any) (model.TemplateVersion, error) {
	var version model.TemplateVersion
	var encoded []byte

	err := r.pool.QueryRow(ctx, query, args...).
		Scan(&version.VersionNumber, &version.IsActive, &encoded, &version.CreatedBy, &version.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.TemplateVersion{}, model.ErrTemplateNotFound
	}
	if err != nil {
		return model.TemplateVersion{}, fmt.Errorf("find template version: %w", err)
	}

	if err := json.Unmarshal(encoded, &version.Roots); err != nil {
		return model.TemplateVersion{}, fmt.Errorf("decode template version %d: %w", version.VersionNumber, err)
	}

	return version, nil
}

// ListVersions returns snapshots newest first, without their tree payloads.
func (r *TemplateRepository) ListVersions(ctx context.Context, page int, limit int) ([]model.TemplateVersion, model.Meta, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM template_versions`).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count template versions: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}

	offset := (page - 1) * limit
	rows, err := r.pool.Query(ctx,
		`SELECT version_number, is_active, created_by, created_at
		 FROM template_versions
		 ORDER BY version_number DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query template versions: %w", err)
	}
	defer rows.Close()

	versions := make([]model.TemplateVersion, 0)
	for rows.Next() {
		var version model.TemplateVersion
		if err := rows.Scan(&version.VersionNumber, &version.IsActive,
			&version.CreatedBy, &version.CreatedAt); err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan template version: %w", err)
		}
		versions = append(versions, version)
	}

	meta := model.Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
	return versions, meta, rows.Err()
}
