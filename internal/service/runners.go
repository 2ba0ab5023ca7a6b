package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"drive-warden/internal/drive"
	"drive-warden/internal/event"
	"drive-warden/internal/model"
	"drive-warden/internal/reconcile"
)

// jobEnv holds state loaded once per job and shared by its tasks.
type jobEnv struct {
	version   model.TemplateVersion
	flattened map[string]model.FolderPermissions
}

func (o *Orchestrator) buildEnv(ctx context.Context, job model.Job) (jobEnv, error) {
	switch job.Type {
	case model.JobTypePermissionEnforcement, model.JobTypeTemplateSyncAll:
		version, err := o.templates.GetActive(ctx)
		if err != nil {
			return jobEnv{}, fmt.Errorf("load active template: %w", err)
		}
		flattened, err := reconcile.Flatten(version.Roots)
		if err != nil {
			return jobEnv{}, fmt.Errorf("flatten active template: %w", err)
		}
		return jobEnv{version: version, flattened: flattened}, nil
	}
	return jobEnv{}, nil
}

// ensureTasks fans a fresh job out into task rows. A resumed job keeps its
// existing tasks.
func (o *Orchestrator) ensureTasks(ctx context.Context, job *model.Job) error {
	if job.TotalTasks > 0 {
		return nil
	}

	targets, err := o.targetProjects(ctx, *job)
	if err != nil {
		return err
	}

	var tasks []model.Task
	now := time.Now().UTC()

	if job.Type == model.JobTypePermissionEnforcement && len(targets) == 1 && o.singleProjectRequested(*job) {
		// Single-project enforcement gets per-folder tasks for fine-grained
		// progress; bulk jobs get one task per project.
		indexed, err := o.folders.ListByProject(ctx, targets[0].ID)
		if err != nil {
			return fmt.Errorf("load folder index: %w", err)
		}
		if len(indexed) == 0 {
			return fmt.Errorf("project %s has no indexed folders; run %s first",
				targets[0].ID, model.JobTypeBuildFolderIndex)
		}
		for _, folder := range indexed {
			tasks = append(tasks, model.Task{
				ID:           uuid.NewString(),
				JobID:        job.ID,
				ProjectID:    folder.ProjectID,
				TemplatePath: folder.TemplatePath,
				FolderID:     folder.DriveFolderID,
				Status:       model.TaskStatusPending,
				CreatedAt:    now,
			})
		}
	} else {
		for _, project := range targets {
			tasks = append(tasks, model.Task{
				ID:        uuid.NewString(),
				JobID:     job.ID,
				ProjectID: project.ID,
				Status:    model.TaskStatusPending,
				CreatedAt: now,
			})
		}
	}

	if len(tasks) == 0 {
		return fmt.Errorf("no eligible projects for job type %s", job.Type)
	}

	if err := o.jobs.CreateTasks(ctx, job.ID, tasks); err != nil {
		return err
	}
	job.TotalTasks = len(tasks)
	return nil
}

func (o *Orchestrator) singleProjectRequested(job model.Job) bool {
	projectID, ok := job.Details["project_id"].(string)
	return ok && strings.TrimSpace(projectID) != ""
}

func (o *Orchestrator) targetProjects(ctx context.Context, job model.Job) ([]model.Project, error) {
	if projectID, ok := job.Details["project_id"].(string); ok && strings.TrimSpace(projectID) != "" {
		project, err := o.projects.FindByID(ctx, strings.TrimSpace(projectID))
		if err != nil {
			return nil, err
		}
		return []model.Project{project}, nil
	}
	return o.projects.ListActive(ctx)
}

// enforceFolderTask reconciles one indexed folder against the template.
func (o *Orchestrator) enforceFolderTask(ctx context.Context, job model.Job, task model.Task, env jobEnv) error {
	expected, ok := env.flattened[task.TemplatePath]
	if !ok {
		// The active template no longer covers this path; the folder is left
		// alone until the index is rebuilt.
		return nil
	}

	report, err := o.executor.Enforce(ctx, task.FolderID, expected, "")
	if err != nil {
		return err
	}

	o.auditEnforcement(ctx, job, task.ProjectID, task.TemplatePath, report)

	if err := o.projects.MarkEnforced(ctx, task.ProjectID); err != nil {
		slog.Warn("mark project enforced", "project_id", task.ProjectID, "error", err)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d enforcement actions failed on folder %s", report.Failed, report.FolderID)
	}
	return nil
}

// enforceProjectTask reconciles every indexed folder of one project. Folder
// failures are tallied, not fatal, so one bad folder never blocks the rest of
// the tree.
func (o *Orchestrator) enforceProjectTask(ctx context.Context, job model.Job, task model.Task, env jobEnv) error {
	indexed, err := o.folders.ListByProject(ctx, task.ProjectID)
	if err != nil {
		return fmt.Errorf("load folder index: %w", err)
	}

	var failures int
	for _, folder := range indexed {
		expected, ok := env.flattened[folder.TemplatePath]
		if !ok {
			continue
		}

		report, err := o.executor.Enforce(ctx, folder.DriveFolderID, expected, "")
		if err != nil {
			slog.Error("enforce folder", "project_id", task.ProjectID,
				"folder_id", folder.DriveFolderID, "error", err)
			failures++
			continue
		}

		o.auditEnforcement(ctx, job, task.ProjectID, folder.TemplatePath, report)
		if report.Failed > 0 {
			failures++
		}
	}

	if err := o.projects.MarkEnforced(ctx, task.ProjectID); err != nil {
		slog.Warn("mark project enforced", "project_id", task.ProjectID, "error", err)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d folders had enforcement failures", failures, len(indexed))
	}
	return nil
}

func (o *Orchestrator) auditEnforcement(ctx context.Context, job model.Job, projectID string, templatePath string, report model.ExecutionReport) {
	for _, entry := range report.Entries {
		if entry.Status != model.EnforcementApplied {
			continue
		}

		action := model.AuditGrantAdded
		if entry.Action == "remove" {
			action = model.AuditGrantRemoved
		} else if entry.Action != "add" {
			continue
		}

		o.logAudit(ctx, model.AuditLogEntry{
			Action:     action,
			EntityType: "folder",
			EntityID:   report.FolderID,
			Details: map[string]any{
				"job_id":        job.ID,
				"project_id":    projectID,
				"template_path": templatePath,
				"principal":     entry.Identifier,
				"type":          entry.Type,
				"role":          entry.Role,
			},
			PerformedBy: job.TriggeredBy,
		})
	}

	if !report.Compliant {
		o.logAudit(ctx, model.AuditLogEntry{
			Action:     model.AuditViolationDetected,
			EntityType: "folder",
			EntityID:   report.FolderID,
			Details: map[string]any{
				"job_id":        job.ID,
				"project_id":    projectID,
				"template_path": templatePath,
				"removed":       report.Removed,
				"added":         report.Added,
				"failed":        report.Failed,
				"skipped":       report.Skipped,
			},
			PerformedBy: job.TriggeredBy,
		})

		o.publishPayload(event.TypeViolationDetected, map[string]any{
			"job_id":        job.ID,
			"project_id":    projectID,
			"folder_id":     report.FolderID,
			"template_path": templatePath,
		}, job.TriggeredBy)
	}
}

// syncProjectTask provisions the project's folder tree from the template,
// creating missing folders and refreshing the index as it goes. Existing
// folders are matched by name, case-insensitively, and never recreated.
func (o *Orchestrator) syncProjectTask(ctx context.Context, job model.Job, task model.Task, env jobEnv) error {
	project, err := o.projects.FindByID(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	if project.DriveFolderID == "" {
		return fmt.Errorf("project %s has no drive folder attached", project.ID)
	}

	if err := o.ensureChildren(ctx, project.ID, project.DriveFolderID, env.version.Roots, ""); err != nil {
		return err
	}

	if err := o.projects.MarkSynced(ctx, project.ID, env.version.VersionNumber); err != nil {
		return err
	}

	slog.Info("project tree synced", "job_id", job.ID, "project_id", project.ID,
		"template_version", env.version.VersionNumber)
	return nil
}

func (o *Orchestrator) ensureChildren(ctx context.Context, projectID string, parentID string, nodes []model.TemplateNode, prefix string) error {
	existing, err := o.client.ListFolders(ctx, parentID)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", parentID, err)
	}

	byName := make(map[string]drive.Folder, len(existing))
	for _, folder := range existing {
		byName[strings.ToLower(folder.Name)] = folder
	}

	for _, node := range nodes {
		name := strings.TrimSpace(node.Name)
		if name == "" {
			continue
		}

		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}

		folder, ok := byName[strings.ToLower(name)]
		if !ok {
			folder, err = o.client.CreateFolder(ctx, parentID, name)
			if err != nil {
				return fmt.Errorf("create folder %q: %w", path, err)
			}
			slog.Info("folder created", "project_id", projectID, "path", path, "folder_id", folder.ID)
		}

		if err := o.folders.Upsert(ctx, model.IndexedFolder{
			ID:              uuid.NewString(),
			ProjectID:       projectID,
			TemplatePath:    path,
			DriveFolderID:   folder.ID,
			DriveFolderName: folder.Name,
		}); err != nil {
			return err
		}

		if err := o.ensureChildren(ctx, projectID, folder.ID, node.Children, path); err != nil {
			return err
		}
	}

	return nil
}

// buildIndexTask rebuilds the project's path-to-folder index from a live
// walk of its tree.
func (o *Orchestrator) buildIndexTask(ctx context.Context, task model.Task) error {
	project, err := o.projects.FindByID(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	if project.DriveFolderID == "" {
		return fmt.Errorf("project %s has no drive folder attached", project.ID)
	}

	refs, err := drive.ListFoldersRecursive(ctx, o.client, project.DriveFolderID)
	if err != nil {
		return fmt.Errorf("walk project tree: %w", err)
	}

	indexed := make([]model.IndexedFolder, 0, len(refs))
	for _, ref := range refs {
		indexed = append(indexed, model.IndexedFolder{
			ID:              uuid.NewString(),
			ProjectID:       project.ID,
			TemplatePath:    ref.Path,
			DriveFolderID:   ref.ID,
			DriveFolderName: ref.Name,
		})
	}

	if err := o.folders.Replace(ctx, project.ID, indexed); err != nil {
		return err
	}

	slog.Info("folder index rebuilt", "project_id", project.ID, "folders", len(indexed))
	return nil
}

// reconcileIndexTask compares the stored index against a live walk, repairs
// remappable entries and reports folders that disappeared.
func (o *Orchestrator) reconcileIndexTask(ctx context.Context, job model.Job, task model.Task) error {
	project, err := o.projects.FindByID(ctx, task.ProjectID)
	if err != nil {
		return err
	}
	if project.DriveFolderID == "" {
		return fmt.Errorf("project %s has no drive folder attached", project.ID)
	}

	indexed, err := o.folders.ListByProject(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("load folder index: %w", err)
	}

	refs, err := drive.ListFoldersRecursive(ctx, o.client, project.DriveFolderID)
	if err != nil {
		return fmt.Errorf("walk project tree: %w", err)
	}

	liveByPath := make(map[string]drive.FolderRef, len(refs))
	for _, ref := range refs {
		liveByPath[ref.Path] = ref
	}

	knownPaths := make(map[string]bool, len(indexed))
	for _, entry := range indexed {
		knownPaths[entry.TemplatePath] = true

		live, ok := liveByPath[entry.TemplatePath]
		if !ok {
			o.reportDrift(ctx, job, project.ID, entry.TemplatePath, "indexed folder no longer exists")
			continue
		}

		if live.ID != entry.DriveFolderID {
			o.reportDrift(ctx, job, project.ID, entry.TemplatePath, "indexed folder was replaced")
			entry.DriveFolderID = live.ID
			entry.DriveFolderName = live.Name
			if err := o.folders.Upsert(ctx, entry); err != nil {
				return err
			}
			continue
		}

		if err := o.folders.Touch(ctx, entry.ID); err != nil {
			return err
		}
	}

	// Folders that appeared outside a sync run still get indexed so
	// enforcement can reach them.
	for path, ref := range liveByPath {
		if knownPaths[path] {
			continue
		}
		if err := o.folders.Upsert(ctx, model.IndexedFolder{
			ID:              uuid.NewString(),
			ProjectID:       project.ID,
			TemplatePath:    path,
			DriveFolderID:   ref.ID,
			DriveFolderName: ref.Name,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) reportDrift(ctx context.Context, job model.Job, projectID string, path string, reason string) {
	slog.Warn("folder drift detected", "project_id", projectID, "path", path, "reason", reason)

	o.logAudit(ctx, model.AuditLogEntry{
		Action:     model.AuditFolderDrift,
		EntityType: "project",
		EntityID:   projectID,
		Details: map[string]any{
			"job_id": job.ID,
			"path":   path,
			"reason": reason,
		},
		PerformedBy: job.TriggeredBy,
	})

	o.publishPayload(event.TypeFolderDrift, map[string]any{
		"project_id": projectID,
		"path":       path,
		"reason":     reason,
	}, job.TriggeredBy)
}

func (o *Orchestrator) logAudit(ctx context.Context, entry model.AuditLogEntry) {
	if err := o.audit.Log(ctx, entry); err != nil {
		slog.Error("write audit entry", "action", entry.Action, "error", err)
	}
}

func (o *Orchestrator) publishPayload(kind event.Type, payload map[string]any, actorID string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(event.Event{
		ID:        uuid.NewString(),
		Type:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ActorID:   actorID,
	})
}
