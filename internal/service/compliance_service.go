package service

import (
	"context"
	"fmt"
	"sort"

	"drive-warden/internal/drive"
	"drive-warden/internal/model"
	"drive-warden/internal/reconcile"
	"drive-warden/internal/repository"
)

// ComplianceService produces read-only reports: what the template expects,
// what the backend shows, and where they differ. It never mutates anything;
// remediation is the enforcement job's business.
type ComplianceService struct {
	projects  *repository.ProjectRepository
	templates *repository.TemplateRepository
	folders   *repository.FolderIndexRepository
	client    drive.Client
}

func NewComplianceService(
	projects *repository.ProjectRepository,
	templates *repository.TemplateRepository,
	folders *repository.FolderIndexRepository,
	client drive.Client,
) *ComplianceService {
	return &ComplianceService{projects: projects, templates: templates, folders: folders, client: client}
}

func (s *ComplianceService) Report(ctx context.Context, projectID string) (model.ComplianceReport, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return model.ComplianceReport{}, err
	}

	version, err := s.templates.GetActive(ctx)
	if err != nil {
		return model.ComplianceReport{}, err
	}
	flattened, err := reconcile.Flatten(version.Roots)
	if err != nil {
		return model.ComplianceReport{}, fmt.Errorf("flatten active template: %w", err)
	}

	indexed, err := s.folders.ListByProject(ctx, project.ID)
	if err != nil {
		return model.ComplianceReport{}, fmt.Errorf("load folder index: %w", err)
	}
	indexByPath := make(map[string]model.IndexedFolder, len(indexed))
	for _, entry := range indexed {
		indexByPath[entry.TemplatePath] = entry
	}

	report := model.ComplianceReport{
		ProjectID:   project.ID,
		ProjectName: project.Name,
		PRNumber:    project.PRNumber,
		Comparisons: []model.FolderComparison{},
	}

	paths := make([]string, 0, len(flattened))
	for path := range flattened {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		expected := flattened[path]

		entry, ok := indexByPath[path]
		if !ok {
			report.Comparisons = append(report.Comparisons, model.FolderComparison{
				FolderPath:            path,
				Status:                "missing",
				Discrepancies:         []string{"no folder indexed for this template path"},
				LimitedAccessExpected: expected.LimitedAccess,
			})
			report.MissingCount++
			continue
		}

		comparison := s.compareFolder(ctx, entry, expected)
		report.Comparisons = append(report.Comparisons, comparison)
		if comparison.Status == "match" {
			report.MatchCount++
		} else {
			report.MismatchCount++
		}
	}

	// Indexed folders the template no longer covers.
	extraPaths := make([]string, 0)
	for path := range indexByPath {
		if _, ok := flattened[path]; !ok {
			extraPaths = append(extraPaths, path)
		}
	}
	sort.Strings(extraPaths)
	for _, path := range extraPaths {
		entry := indexByPath[path]
		report.Comparisons = append(report.Comparisons, model.FolderComparison{
			FolderPath:    path,
			DriveFolderID: entry.DriveFolderID,
			Status:        "extra",
			Discrepancies: []string{"folder is indexed but absent from the active template"},
		})
		report.ExtraCount++
	}

	report.TotalFolders = len(report.Comparisons)
	return report, nil
}

func (s *ComplianceService) compareFolder(ctx context.Context, entry model.IndexedFolder, expected model.FolderPermissions) model.FolderComparison {
	comparison := model.FolderComparison{
		FolderPath:            entry.TemplatePath,
		DriveFolderID:         entry.DriveFolderID,
		ExpectedGroups:        expected.Groups,
		ExpectedUsers:         expected.Users,
		LimitedAccessExpected: expected.LimitedAccess,
	}

	folder, err := s.client.GetFolder(ctx, entry.DriveFolderID)
	if err != nil {
		comparison.Status = "missing"
		comparison.Discrepancies = []string{fmt.Sprintf("folder unreachable: %v", err)}
		return comparison
	}
	comparison.LimitedAccessActual = folder.LimitedAccess

	grants, err := s.client.ListPermissions(ctx, entry.DriveFolderID)
	if err != nil {
		comparison.Status = "mismatch"
		comparison.Discrepancies = []string{fmt.Sprintf("permissions unreadable: %v", err)}
		return comparison
	}
	comparison.ActualGrants = grants

	diff := reconcile.Diff(expected, grants, folder.LimitedAccess, folder.DriveID)
	if diff.Compliant {
		comparison.Status = "match"
		return comparison
	}

	comparison.Status = "mismatch"
	comparison.Discrepancies = append(comparison.Discrepancies, diff.Violations...)
	for _, principal := range diff.ToAdd {
		comparison.Discrepancies = append(comparison.Discrepancies,
			fmt.Sprintf("missing grant %s (%s)", principal.Key(), principal.Role))
	}
	if diff.LimitedAccessMismatch {
		comparison.Discrepancies = append(comparison.Discrepancies,
			fmt.Sprintf("limited access is %t, want %t", folder.LimitedAccess, expected.LimitedAccess))
	}

	return comparison
}
