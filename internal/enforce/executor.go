// Package enforce applies corrective permission plans against the storage
// backend: removals first, then additions, then the limited-access toggle,
// with a bounded re-diff round afterwards. All remote calls are paced by a
// shared rate limiter and retried with backoff on transient failures.
package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"drive-warden/internal/drive"
	"drive-warden/internal/model"
	"drive-warden/internal/reconcile"
)

const (
	defaultCallDelay    = 300 * time.Millisecond
	defaultCallTimeout  = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRediffRounds = 1
)

// Options tune one executor. Zero values fall back to defaults. Protected
// has no default; an empty list means no principal is protected.
type Options struct {
	// CallDelay is the minimum spacing between remote calls. This is the
	// first-class scheduling parameter protecting the backend's rate limits.
	CallDelay   time.Duration
	CallTimeout time.Duration
	// MaxRetries bounds retry attempts per remote call on transient errors.
	MaxRetries uint64
	// RediffRounds bounds the extra list+diff+apply rounds after the
	// limited-access toggle.
	RediffRounds int
	// Protected identifiers are never removed, case-insensitively, even when
	// a diff says otherwise.
	Protected []string
}

type Executor struct {
	client       drive.Client
	limiter      *rate.Limiter
	protected    map[string]struct{}
	callTimeout  time.Duration
	maxRetries   uint64
	rediffRounds int
}

func NewExecutor(client drive.Client, opts Options) *Executor {
	if opts.CallDelay <= 0 {
		opts.CallDelay = defaultCallDelay
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RediffRounds <= 0 {
		opts.RediffRounds = defaultRediffRounds
	}

	protected := make(map[string]struct{}, len(opts.Protected))
	for _, identifier := range opts.Protected {
		identifier = strings.ToLower(strings.TrimSpace(identifier))
		if identifier != "" {
			protected[identifier] = struct{}{}
		}
	}

	return &Executor{
		client:       client,
		limiter:      rate.NewLimiter(rate.Every(opts.CallDelay), 1),
		protected:    protected,
		callTimeout:  opts.CallTimeout,
		maxRetries:   opts.MaxRetries,
		rediffRounds: opts.RediffRounds,
	}
}

// Protected reports whether an identifier is on the allow-list.
func (e *Executor) Protected(identifier string) bool {
	_, ok := e.protected[strings.ToLower(identifier)]
	return ok
}

// Enforce brings one folder into agreement with its expected permissions.
// Per-entry failures are recorded in the report and never abort the rest of
// the folder's plan; the returned error is reserved for failures that make
// the whole pass meaningless (cannot list the folder at all).
func (e *Executor) Enforce(ctx context.Context, folderID string, expected model.FolderPermissions, driveID string) (model.ExecutionReport, error) {
	report := model.ExecutionReport{FolderID: folderID, Entries: []model.EnforcementEntry{}}

	folder, err := e.getFolder(ctx, folderID)
	if err != nil {
		return report, fmt.Errorf("inspect folder %s: %w", folderID, err)
	}
	if driveID == "" {
		driveID = folder.DriveID
	}

	observed, err := e.listPermissions(ctx, folderID)
	if err != nil {
		return report, fmt.Errorf("list permissions on %s: %w", folderID, err)
	}

	diff := reconcile.Diff(expected, observed, folder.LimitedAccess, driveID)
	if diff.Compliant {
		report.Compliant = true
		return report, nil
	}

	removalsFailed := e.apply(ctx, folderID, diff, &report)

	// The toggle comes last: cutting inheritance while stale grants remain
	// would freeze them in place. When removals failed this pass the toggle
	// is deferred to a later run.
	if diff.LimitedAccessMismatch {
		if removalsFailed {
			report.Record(model.EnforcementEntry{
				Action: "set_limited_access",
				Status: model.EnforcementSkipped,
				Error:  "deferred: removals failed this pass",
			})
		} else if err := e.setLimitedAccess(ctx, folderID, expected.LimitedAccess); err != nil {
			report.Record(model.EnforcementEntry{
				Action: "set_limited_access",
				Status: model.EnforcementFailed,
				Error:  err.Error(),
			})
		} else {
			report.ToggledLimitedAccess = true
		}
	}

	// Cutting inheritance can materialize formerly-inherited grants as
	// removable ones; sweep them in the same pass, bounded to avoid
	// unbounded recursion.
	compliant := report.Failed == 0 && (!diff.LimitedAccessMismatch || report.ToggledLimitedAccess)
	if report.ToggledLimitedAccess && expected.LimitedAccess {
		for round := 0; round < e.rediffRounds; round++ {
			report.RediffRounds++

			observed, err = e.listPermissions(ctx, folderID)
			if err != nil {
				slog.Warn("re-list after toggle failed", "folder_id", folderID, "error", err)
				compliant = false
				break
			}

			rediff := reconcile.Diff(expected, observed, expected.LimitedAccess, driveID)
			if rediff.Compliant {
				compliant = report.Failed == 0
				break
			}

			e.apply(ctx, folderID, rediff, &report)
			compliant = report.Failed == 0
		}
	}

	report.Compliant = compliant
	return report, nil
}

// apply executes removals then additions. Returns true when any removal
// failed (protected skips do not count as failures).
func (e *Executor) apply(ctx context.Context, folderID string, diff model.DiffResult, report *model.ExecutionReport) bool {
	removalsFailed := false

	for _, grant := range diff.ToRemove {
		entry := model.EnforcementEntry{
			Action:     "remove",
			Type:       grant.Type,
			Identifier: grant.Identifier(),
			Role:       reconcile.NormalizeRole(grant.Role),
		}

		if e.Protected(grant.Identifier()) {
			entry.Status = model.EnforcementSkipped
			entry.Error = "protected principal"
			report.Record(entry)
			continue
		}

		if err := e.removePermission(ctx, folderID, grant.ID); err != nil {
			entry.Status = model.EnforcementFailed
			entry.Error = err.Error()
			removalsFailed = true
		} else {
			entry.Status = model.EnforcementApplied
		}
		report.Record(entry)
	}

	for _, principal := range diff.ToAdd {
		entry := model.EnforcementEntry{
			Action:     "add",
			Type:       string(principal.Type),
			Identifier: principal.Identifier,
			Role:       principal.Role,
		}

		if err := e.addPermission(ctx, folderID, principal); err != nil {
			entry.Status = model.EnforcementFailed
			entry.Error = err.Error()
		} else {
			entry.Status = model.EnforcementApplied
		}
		report.Record(entry)
	}

	return removalsFailed
}

func (e *Executor) getFolder(ctx context.Context, folderID string) (drive.Folder, error) {
	var folder drive.Folder
	err := e.call(ctx, func(callCtx context.Context) error {
		var callErr error
		folder, callErr = e.client.GetFolder(callCtx, folderID)
		return callErr
	})
	return folder, err
}

func (e *Executor) listPermissions(ctx context.Context, folderID string) ([]model.ObservedGrant, error) {
	var grants []model.ObservedGrant
	err := e.call(ctx, func(callCtx context.Context) error {
		var callErr error
		grants, callErr = e.client.ListPermissions(callCtx, folderID)
		return callErr
	})
	return grants, err
}

func (e *Executor) removePermission(ctx context.Context, folderID string, grantID string) error {
	return e.call(ctx, func(callCtx context.Context) error {
		return e.client.RemovePermission(callCtx, folderID, grantID)
	})
}

func (e *Executor) addPermission(ctx context.Context, folderID string, principal model.Principal) error {
	return e.call(ctx, func(callCtx context.Context) error {
		_, callErr := e.client.AddPermission(callCtx, folderID, principal)
		return callErr
	})
}

func (e *Executor) setLimitedAccess(ctx context.Context, folderID string, enabled bool) error {
	return e.call(ctx, func(callCtx context.Context) error {
		return e.client.SetLimitedAccess(callCtx, folderID, enabled)
	})
}

// call paces one remote call through the shared limiter and retries
// transient failures with exponential backoff. Permanent errors (not found,
// permission denied) fail immediately.
func (e *Executor) call(ctx context.Context, fn func(context.Context) error) error {
	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if drive.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxRetries), ctx)
	return backoff.Retry(operation, policy)
}
