package model

import "time"

// Project is one managed project folder tree rooted somewhere in the shared
// drive.
type Project struct {
	ID             string     `json:"id"`
	PRNumber       string     `json:"pr_number"`
	Name           string     `json:"name"`
	Phase          string     `json:"phase"`
	Status         string     `json:"status"`
	DriveFolderID  string     `json:"drive_folder_id"`
	SyncedVersion  int        `json:"synced_version"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	LastEnforcedAt *time.Time `json:"last_enforced_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IndexedFolder maps one template path to its live folder for one project.
// Rebuilt by the build_folder_index job and consulted by enforcement.
type IndexedFolder struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	TemplatePath    string    `json:"template_path"`
	DriveFolderID   string    `json:"drive_folder_id"`
	DriveFolderName string    `json:"drive_folder_name"`
	LastVerifiedAt  time.Time `json:"last_verified_at"`
}

// FolderComparison is one folder's read-only compliance verdict.
type FolderComparison struct {
	FolderPath            string          `json:"folder_path"`
	DriveFolderID         string          `json:"drive_folder_id"`
	ExpectedGroups        []Principal     `json:"expected_groups"`
	ExpectedUsers         []Principal     `json:"expected_users"`
	ActualGrants          []ObservedGrant `json:"actual_grants"`
	Status                string          `json:"status"` // match | missing | extra | mismatch
	Discrepancies         []string        `json:"discrepancies,omitempty"`
	LimitedAccessExpected bool            `json:"limited_access_expected"`
	LimitedAccessActual   bool            `json:"limited_access_actual"`
}

// ComplianceReport aggregates comparisons for one project.
type ComplianceReport struct {
	ProjectID     string             `json:"project_id"`
	ProjectName   string             `json:"project_name"`
	PRNumber      string             `json:"pr_number"`
	TotalFolders  int                `json:"total_folders"`
	MatchCount    int                `json:"match_count"`
	MissingCount  int                `json:"missing_count"`
	ExtraCount    int                `json:"extra_count"`
	MismatchCount int                `json:"mismatch_count"`
	Comparisons   []FolderComparison `json:"comparisons"`
}
