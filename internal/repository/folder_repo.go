package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"drive-warden/internal/model"
)

type FolderIndexRepository struct {
	pool *pgxpool.Pool
}

func NewFolderIndexRepository(pool *pgxpool.Pool) *FolderIndexRepository {
	return &FolderIndexRepository{pool: pool}
}

// Upsert records one path-to-folder mapping, replacing any previous mapping
// for the same project and template path.
func (r *FolderIndexRepository) Upsert(ctx context.Context, folder model.IndexedFolder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO folder_index (id, project_id, template_path, drive_folder_id, drive_folder_name, last_verified_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (project_id, template_path) DO UPDATE SET
		     drive_folder_id = EXCLUDED.drive_folder_id,
		     drive_folder_name = EXCLUDED.drive_folder_name,
		     last_verified_at = now()`,
		folder.ID, folder.ProjectID, folder.TemplatePath, folder.DriveFolderID, folder.DriveFolderName)
	if err != nil {
		return fmt.Errorf("upsert indexed folder: %w", err)
	}
	return nil
}

// Replace swaps a project's whole index in one transaction. Used by the
// index-building job so a partial walk never leaves a half-stale index.
func (r *FolderIndexRepository) Replace(ctx context.Context, projectID string, folders []model.IndexedFolder) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace index: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM folder_index WHERE project_id = $1`, projectID); err != nil {
		return fmt.Errorf("clear project index: %w", err)
	}

	batch := &pgx.Batch{}
	for _, folder := range folders {
		batch.Queue(
			`INSERT INTO folder_index (id, project_id, template_path, drive_folder_id, drive_folder_name, last_verified_at)
			 VALUES ($1, $2, $3, $4, $5, now())`,
			folder.ID, projectID, folder.TemplatePath, folder.DriveFolderID, folder.DriveFolderName)
	}

	br := tx.SendBatch(ctx, batch)
	for range folders {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert indexed folder: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close index batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace index: %w", err)
	}
	return nil
}

func (r *FolderIndexRepository) ListByProject(ctx context.Context, projectID string) ([]model.IndexedFolder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, project_id, template_path, drive_folder_id, drive_folder_name, last_verified_at
		 FROM folder_index WHERE project_id = $1
		 ORDER BY template_path`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query project index: %w", err)
	}
	defer rows.Close()

	folders := make([]model.IndexedFolder, 0)
	for rows.Next() {
		var folder model.IndexedFolder
		if err := rows.Scan(&folder.ID, &folder.ProjectID, &folder.TemplatePath,
			&folder.DriveFolderID, &folder.DriveFolderName, &folder.LastVerifiedAt); err != nil {
			return nil, fmt.Errorf("scan indexed folder: %w", err)
		}
		folders = append(folders, folder)
	}

	return folders, rows.Err()
}

func (r *FolderIndexRepository) Find(ctx context.Context, projectID string, templatePath string) (model.IndexedFolder, error) {
	var folder model.IndexedFolder
	err := r.pool.QueryRow(ctx,
		`SELECT id, project_id, template_path, drive_folder_id, drive_folder_name, last_verified_at
		 FROM folder_index WHERE project_id = $1 AND template_path = $2`,
		projectID, templatePath).
		Scan(&folder.ID, &folder.ProjectID, &folder.TemplatePath,
			&folder.DriveFolderID, &folder.DriveFolderName, &folder.LastVerifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.IndexedFolder{}, model.ErrFolderNotFound
	}
	if err != nil {
		return model.IndexedFolder{}, fmt.Errorf("find indexed folder: %w", err)
	}
	return folder, nil
}

// Touch refreshes the verification timestamp after a reconcile pass confirms
// the mapping still holds.
func (r *FolderIndexRepository) Touch(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE folder_index SET last_verified_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch indexed folder: %w", err)
	}
	return nil
}
