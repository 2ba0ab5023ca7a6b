package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drive-warden/internal/drive"
	"drive-warden/internal/enforce"
	"drive-warden/internal/model"
)

// memJobs is an in-memory JobStore mirroring the repository's transition
// rules closely enough for orchestrator tests.
type memJobs struct {
	mu    sync.Mutex
	order []string
	jobs  map[string]*model.Job
	tasks map[string][]*model.Task

	cancelChecks int
	// When non-zero, CancelRequested reports true from that check on,
	// 1-based, simulating an operator cancelling mid-run.
	cancelFromCheck int
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[string]*model.Job{}, tasks: map[string][]*model.Task{}}
}

func (m *memJobs) add(job model.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := job
	m.order = append(m.order, job.ID)
	m.jobs[job.ID] = &stored
}

func (m *memJobs) get(jobID string) model.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}
	}
	return *job
}

func (m *memJobs) taskByPath(t *testing.T, jobID string, path string) model.Task {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks[jobID] {
		if task.TemplatePath == path {
			return *task
		}
	}
	t.Fatalf("no task for path %s", path)
	return model.Task{}
}

func (m *memJobs) taskStatuses(jobID string) []model.TaskStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.TaskStatus, 0, len(m.tasks[jobID]))
	for _, task := range m.tasks[jobID] {
		out = append(out, task.Status)
	}
	return out
}

func (m *memJobs) ClaimNextPending(_ context.Context) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status == model.JobStatusPending {
			job.Status = model.JobStatusRunning
			now := time.Now().UTC()
			job.StartedAt = &now
			return *job, nil
		}
	}
	return model.Job{}, model.ErrJobNotFound
}

func (m *memJobs) RequeueRunning(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, job := range m.jobs {
		if job.Status == model.JobStatusRunning {
			job.Status = model.JobStatusPending
			count++
		}
	}
	for _, tasks := range m.tasks {
		for _, task := range tasks {
			if task.Status == model.TaskStatusRunning {
				task.Status = model.TaskStatusPending
			}
		}
	}
	return count, nil
}

func (m *memJobs) FindByID(_ context.Context, jobID string) (model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	return *job, nil
}

func (m *memJobs) Finish(_ context.Context, jobID string, status model.JobStatus, errorSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return model.ErrJobNotFound
	}
	job.Status = status
	job.ErrorSummary = errorSummary
	now := time.Now().UTC()
	job.CompletedAt = &now
	return nil
}

func (m *memJobs) CancelRequested(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelChecks++
	if job, ok := m.jobs[jobID]; ok && job.CancelRequested {
		return true, nil
	}
	return m.cancelFromCheck > 0 && m.cancelChecks >= m.cancelFromCheck, nil
}

func (m *memJobs) CreateTasks(_ context.Context, jobID string, tasks []model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range tasks {
		stored := task
		m.tasks[jobID] = append(m.tasks[jobID], &stored)
	}
	if job, ok := m.jobs[jobID]; ok {
		job.TotalTasks = len(m.tasks[jobID])
	}
	return nil
}

func (m *memJobs) PendingTasks(_ context.Context, jobID string) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Task
	for _, task := range m.tasks[jobID] {
		if task.Status == model.TaskStatusPending {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (m *memJobs) StartTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tasks := range m.tasks {
		for _, task := range tasks {
			if task.ID == taskID {
				task.Status = model.TaskStatusRunning
				return nil
			}
		}
	}
	return model.ErrJobNotFound
}

func (m *memJobs) FinishTask(_ context.Context, jobID string, taskID string, status model.TaskStatus, taskErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks[jobID] {
		if task.ID != taskID {
			continue
		}
		task.Status = status
		task.Error = taskErr
		now := time.Now().UTC()
		task.CompletedAt = &now
		job := m.jobs[jobID]
		switch status {
		case model.TaskStatusCompleted:
			job.CompletedTasks++
		case model.TaskStatusFailed:
			job.FailedTasks++
		}
		return nil
	}
	return model.ErrJobNotFound
}

type memProjects struct {
	mu       sync.Mutex
	order    []string
	projects map[string]*model.Project
}

func newMemProjects(projects ...model.Project) *memProjects {
	m := &memProjects{projects: map[string]*model.Project{}}
	for _, project := range projects {
		stored := project
		m.order = append(m.order, project.ID)
		m.projects[project.ID] = &stored
	}
	return m
}

func (m *memProjects) FindByID(_ context.Context, projectID string) (model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return model.Project{}, model.ErrProjectNotFound
	}
	return *project, nil
}

func (m *memProjects) ListActive(_ context.Context) ([]model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Project
	for _, id := range m.order {
		project := m.projects[id]
		if project.Status == "active" && project.DriveFolderID != "" {
			out = append(out, *project)
		}
	}
	return out, nil
}

func (m *memProjects) MarkSynced(_ context.Context, projectID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if project, ok := m.projects[projectID]; ok {
		project.SyncedVersion = version
	}
	return nil
}

func (m *memProjects) MarkEnforced(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if project, ok := m.projects[projectID]; ok {
		now := time.Now().UTC()
		project.LastEnforcedAt = &now
	}
	return nil
}

type memTemplates struct {
	version model.TemplateVersion
	hasOne  bool
}

func (m *memTemplates) GetActive(_ context.Context) (model.TemplateVersion, error) {
	if !m.hasOne {
		return model.TemplateVersion{}, model.ErrTemplateNotFound
	}
	return m.version, nil
}

type memFolders struct {
	mu      sync.Mutex
	entries map[string][]*model.IndexedFolder
}

func newMemFolders() *memFolders {
	return &memFolders{entries: map[string][]*model.IndexedFolder{}}
}

func (m *memFolders) seed(folders ...model.IndexedFolder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, folder := range folders {
		stored := folder
		m.entries[folder.ProjectID] = append(m.entries[folder.ProjectID], &stored)
	}
}

func (m *memFolders) ListByProject(_ context.Context, projectID string) ([]model.IndexedFolder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.IndexedFolder
	for _, entry := range m.entries[projectID] {
		out = append(out, *entry)
	}
	return out, nil
}

func (m *memFolders) Upsert(_ context.Context, folder model.IndexedFolder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.entries[folder.ProjectID] {
		if entry.TemplatePath == folder.TemplatePath {
			entry.DriveFolderID = folder.DriveFolderID
			entry.DriveFolderName = folder.DriveFolderName
			return nil
		}
	}
	stored := folder
	m.entries[folder.ProjectID] = append(m.entries[folder.ProjectID], &stored)
	return nil
}

func (m *memFolders) Replace(_ context.Context, projectID string, folders []model.IndexedFolder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[projectID] = nil
	for _, folder := range folders {
		stored := folder
		m.entries[projectID] = append(m.entries[projectID], &stored)
	}
	return nil
}

func (m *memFolders) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entries := range m.entries {
		for _, entry := range entries {
			if entry.ID == id {
				entry.LastVerifiedAt = time.Now().UTC()
				return nil
			}
		}
	}
	return model.ErrFolderNotFound
}

type memAudit struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
}

func (m *memAudit) Log(_ context.Context, entry model.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.Action)
	}
	return out
}

func (m *memAudit) byAction(action string) []model.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditLogEntry
	for _, entry := range m.entries {
		if entry.Action == action {
			out = append(out, entry)
		}
	}
	return out
}

func limitedWriterNode(name string) model.TemplateNode {
	return model.TemplateNode{
		Name:          name,
		LimitedAccess: true,
		Groups:        []model.TemplateEntry{{Email: "qs-team@x.com", Role: "writer"}},
	}
}

func seedCompliantFolder(fake *drive.FakeClient, folderID string, grantID string) {
	fake.PutFolder(drive.Folder{ID: folderID, DriveID: "0AxRoot", LimitedAccess: true})
	fake.SeedGrant(folderID, model.ObservedGrant{
		ID: grantID, Type: "group", EmailAddress: "qs-team@x.com", Role: "writer",
	})
}

func testOrchestrator(jobs JobStore, projects ProjectStore, templates TemplateStore, folders FolderIndexStore, audit AuditLogger, client drive.Client) *Orchestrator {
	executor := enforce.NewExecutor(client, enforce.Options{
		CallDelay:   time.Microsecond,
		CallTimeout: time.Second,
	})
	return NewOrchestrator(jobs, projects, templates, folders, audit, client, executor, nil, 1, time.Millisecond)
}

func TestOrchestratorEnforcementJobTalliesFolderFailures(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	seedCompliantFolder(fake, "f1", "g1")
	seedCompliantFolder(fake, "f2", "g2")
	seedCompliantFolder(fake, "f3", "g3")

	// Folder 2 carries a stale direct grant whose removal is rejected
	// permanently.
	fake.SeedGrant("f2", model.ObservedGrant{ID: "p-bad", Type: "user", EmailAddress: "intruder@x.com", Role: "writer"})
	fake.FailNext("remove:f2:p-bad", model.ErrPermissionDenied)

	jobs := newMemJobs()
	projects := newMemProjects(model.Project{ID: "pr-1", Status: "active", DriveFolderID: "root-1"})
	templates := &memTemplates{hasOne: true, version: model.TemplateVersion{
		VersionNumber: 3,
		Roots: []model.TemplateNode{
			limitedWriterNode("Alpha"),
			limitedWriterNode("Beta"),
			limitedWriterNode("Gamma"),
		},
	}}
	folders := newMemFolders()
	folders.seed(
		model.IndexedFolder{ID: "i1", ProjectID: "pr-1", TemplatePath: "Alpha", DriveFolderID: "f1"},
		model.IndexedFolder{ID: "i2", ProjectID: "pr-1", TemplatePath: "Beta", DriveFolderID: "f2"},
		model.IndexedFolder{ID: "i3", ProjectID: "pr-1", TemplatePath: "Gamma", DriveFolderID: "f3"},
	)
	audit := &memAudit{}

	job := model.Job{
		ID:          "job-1",
		Type:        model.JobTypePermissionEnforcement,
		Status:      model.JobStatusRunning,
		TriggeredBy: "ops@x.com",
		Details:     map[string]any{"project_id": "pr-1"},
	}
	jobs.add(job)

	o := testOrchestrator(jobs, projects, templates, folders, audit, fake)
	o.runJob(context.Background(), job)

	final := jobs.get("job-1")
	require.Equal(t, model.JobStatusCompleted, final.Status)
	require.Equal(t, 3, final.TotalTasks)
	require.Equal(t, 2, final.CompletedTasks)
	require.Equal(t, 1, final.FailedTasks)
	require.Equal(t, "1 of 3 tasks failed", final.ErrorSummary)

	require.Equal(t, model.TaskStatusCompleted, jobs.taskByPath(t, "job-1", "Alpha").Status)
	require.Equal(t, model.TaskStatusCompleted, jobs.taskByPath(t, "job-1", "Gamma").Status)
	failed := jobs.taskByPath(t, "job-1", "Beta")
	require.Equal(t, model.TaskStatusFailed, failed.Status)
	require.Contains(t, failed.Error, "enforcement actions failed")

	violations := audit.byAction(model.AuditViolationDetected)
	require.Len(t, violations, 1)
	require.Equal(t, "f2", violations[0].EntityID)
	require.Contains(t, audit.actions(), model.AuditJobStarted)
	require.Contains(t, audit.actions(), model.AuditJobCompleted)
}

func TestOrchestratorCancellationLeavesRemainingTasksPending(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "root-1"})
	fake.PutFolder(drive.Folder{ID: "root-2"})
	fake.PutFolder(drive.Folder{ID: "root-3"})

	jobs := newMemJobs()
	// First cancel check passes, every later one reports the cancel flag, so
	// exactly one task is dispatched.
	jobs.cancelFromCheck = 2
	projects := newMemProjects(
		model.Project{ID: "pr-1", Status: "active", DriveFolderID: "root-1"},
		model.Project{ID: "pr-2", Status: "active", DriveFolderID: "root-2"},
		model.Project{ID: "pr-3", Status: "active", DriveFolderID: "root-3"},
	)
	audit := &memAudit{}

	job := model.Job{
		ID:          "job-2",
		Type:        model.JobTypeBuildFolderIndex,
		Status:      model.JobStatusRunning,
		TriggeredBy: "ops@x.com",
	}
	jobs.add(job)

	o := testOrchestrator(jobs, projects, &memTemplates{}, newMemFolders(), audit, fake)
	o.runJob(context.Background(), job)

	final := jobs.get("job-2")
	require.Equal(t, model.JobStatusCancelled, final.Status)
	require.Equal(t, "cancelled by operator", final.ErrorSummary)
	require.Equal(t, 1, final.CompletedTasks)

	// Undispatched tasks stay pending; cancellation never rewrites them.
	statuses := jobs.taskStatuses("job-2")
	require.Equal(t, []model.TaskStatus{
		model.TaskStatusCompleted,
		model.TaskStatusPending,
		model.TaskStatusPending,
	}, statuses)

	require.Contains(t, audit.actions(), model.AuditJobCancelled)
}

func TestOrchestratorJobCompletesWhenEveryTaskFails(t *testing.T) {
	t.Parallel()

	jobs := newMemJobs()
	projects := newMemProjects(model.Project{ID: "pr-1", Status: "active"})
	audit := &memAudit{}

	job := model.Job{
		ID:          "job-3",
		Type:        model.JobTypeBuildFolderIndex,
		Status:      model.JobStatusRunning,
		TriggeredBy: "ops@x.com",
		Details:     map[string]any{"project_id": "pr-1"},
	}
	jobs.add(job)

	o := testOrchestrator(jobs, projects, &memTemplates{}, newMemFolders(), audit, drive.NewFakeClient())
	o.runJob(context.Background(), job)

	// The traversal finished, so the job completes even though nothing
	// succeeded; the summary carries the tally.
	final := jobs.get("job-3")
	require.Equal(t, model.JobStatusCompleted, final.Status)
	require.Equal(t, 0, final.CompletedTasks)
	require.Equal(t, 1, final.FailedTasks)
	require.Equal(t, "1 of 1 tasks failed", final.ErrorSummary)

	require.Contains(t, audit.actions(), model.AuditJobCompleted)
	require.NotContains(t, audit.actions(), model.AuditJobFailed)
}

func TestOrchestratorRunRequeuesInterruptedJobs(t *testing.T) {
	t.Parallel()

	fake := drive.NewFakeClient()
	fake.PutFolder(drive.Folder{ID: "root-1"})

	jobs := newMemJobs()
	projects := newMemProjects(model.Project{ID: "pr-1", Status: "active", DriveFolderID: "root-1"})
	audit := &memAudit{}

	// A job and its task stranded mid-run by a previous process.
	job := model.Job{
		ID:          "job-4",
		Type:        model.JobTypeBuildFolderIndex,
		Status:      model.JobStatusRunning,
		TriggeredBy: "ops@x.com",
		Details:     map[string]any{"project_id": "pr-1"},
	}
	jobs.add(job)
	require.NoError(t, jobs.CreateTasks(context.Background(), "job-4", []model.Task{
		{ID: "t1", JobID: "job-4", ProjectID: "pr-1", Status: model.TaskStatusRunning},
	}))

	o := testOrchestrator(jobs, projects, &memTemplates{}, newMemFolders(), audit, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return jobs.get("job-4").Status == model.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestrator did not stop after context cancellation")
	}

	final := jobs.get("job-4")
	require.Equal(t, 1, final.CompletedTasks)
	require.Equal(t, model.TaskStatusCompleted, jobs.taskByPath(t, "job-4", "").Status)
}
