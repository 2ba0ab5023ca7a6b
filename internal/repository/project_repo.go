package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drive-warden/internal/model"
)

const projectColumns = `id, pr_number, name, phase, status, drive_folder_id,
        synced_version, last_synced_at, last_enforced_at, created_at`

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func (r *ProjectRepository) Create(ctx context.Context, project model.Project) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO projects (id, pr_number, name, phase, status, drive_folder_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		project.ID, project.PRNumber, project.Name, project.Phase,
		project.Status, project.DriveFolderID, project.CreatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, projectID string) (model.Project, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, projectID)
	return scanProject(row)
}

func (r *ProjectRepository) FindByPRNumber(ctx context.Context, prNumber string) (model.Project, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE pr_number = $1`, prNumber)
	return scanProject(row)
}

func (r *ProjectRepository) List(ctx context.Context, status string, page int, limit int) ([]model.Project, model.Meta, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	whereClause := ""
	args := make([]any, 0)
	argIdx := 1

	if status = strings.TrimSpace(status); status != "" {
		whereClause = fmt.Sprintf("WHERE status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM projects %s", whereClause)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, model.Meta{}, fmt.Errorf("count projects: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}

	offset := (page - 1) * limit
	dataQuery := fmt.Sprintf(
		`SELECT `+projectColumns+` FROM projects %s
		 ORDER BY pr_number
		 LIMIT $%d OFFSET $%d`, whereClause, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	projects := make([]model.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, model.Meta{}, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}

	meta := model.Meta{Page: page, Limit: limit, Total: total, TotalPages: totalPages}
	return projects, meta, rows.Err()
}

// ListActive returns every project eligible for bulk jobs, in PR-number order
// so job task fan-out is deterministic.
func (r *ProjectRepository) ListActive(ctx context.Context) ([]model.Project, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE status = 'active' AND drive_folder_id <> ''
		 ORDER BY pr_number`)
	if err != nil {
		return nil, fmt.Errorf("query active projects: %w", err)
	}
	defer rows.Close()

	projects := make([]model.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}

	return projects, rows.Err()
}

func (r *ProjectRepository) SetDriveFolder(ctx context.Context, projectID string, driveFolderID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE projects SET drive_folder_id = $2 WHERE id = $1`, projectID, driveFolderID)
	if err != nil {
		return fmt.Errorf("set project drive folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrProjectNotFound
	}
	return nil
}

// MarkSynced records which template version the project's tree was last
// provisioned from.
func (r *ProjectRepository) MarkSynced(ctx context.Context, projectID string, version int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE projects SET synced_version = $2, last_synced_at = now() WHERE id = $1`,
		projectID, version)
	if err != nil {
		return fmt.Errorf("mark project synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrProjectNotFound
	}
	return nil
}

func (r *ProjectRepository) MarkEnforced(ctx context.Context, projectID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE projects SET last_enforced_at = now() WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("mark project enforced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrProjectNotFound
	}
	return nil
}

func scanProject(row rowScanner) (model.Project, error) {
	var project model.Project
	err := row.Scan(&project.ID, &project.PRNumber, &project.Name, &project.Phase,
		&project.Status, &project.DriveFolderID, &project.SyncedVersion,
		&project.LastSyncedAt, &project.LastEnforcedAt, &project.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, model.ErrProjectNotFound
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("find project: %w", err)
	}
	return project, nil
}
