package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"drive-warden/internal/model"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/drive/v3"
	folderMIMEType  = "application/vnd.google-apps.folder"
	folderFields    = "id, name, parents, driveId, inheritedPermissionsDisabled"
	permissionQuery = "permissions(id, type, role, emailAddress, domain, displayName, deleted, permissionDetails)"
)

// TokenFunc supplies a valid bearer token for one request. Token refresh
// lives behind this function, outside the client.
type TokenFunc func(ctx context.Context) (string, error)

// GoogleClient talks to a Drive v3 compatible REST API. All requests are
// issued with supportsAllDrives so shared-drive folders behave like regular
// ones.
type GoogleClient struct {
	baseURL string
	driveID string
	token   TokenFunc
	http    *http.Client
}

func NewGoogleClient(baseURL string, driveID string, token TokenFunc, timeout time.Duration) *GoogleClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &GoogleClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		driveID: driveID,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type fileResource struct {
	ID                           string   `json:"id"`
	Name                         string   `json:"name"`
	Parents                      []string `json:"parents"`
	MIMEType                     string   `json:"mimeType,omitempty"`
	DriveID                      string   `json:"driveId,omitempty"`
	InheritedPermissionsDisabled bool     `json:"inheritedPermissionsDisabled,omitempty"`
}

func (f fileResource) toFolder() Folder {
	folder := Folder{
		ID:            f.ID,
		Name:          f.Name,
		DriveID:       f.DriveID,
		LimitedAccess: f.InheritedPermissionsDisabled,
	}
	if len(f.Parents) > 0 {
		folder.ParentID = f.Parents[0]
	}
	return folder
}

func (c *GoogleClient) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	query := url.Values{
		"supportsAllDrives": {"true"},
		"fields":            {folderFields},
	}

	var resource fileResource
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(folderID), query, nil, &resource); err != nil {
		return Folder{}, fmt.Errorf("get folder %s: %w", folderID, err)
	}

	return resource.toFolder(), nil
}

func (c *GoogleClient) ListFolders(ctx context.Context, parentID string) ([]Folder, error) {
	query := url.Values{
		"q": {fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false",
			parentID, folderMIMEType)},
		"supportsAllDrives":         {"true"},
		"includeItemsFromAllDrives": {"true"},
		"corpora":                   {"drive"},
		"driveId":                   {c.driveID},
		"orderBy":                   {"name"},
		"pageSize":                  {"1000"},
		"fields":                    {"nextPageToken, files(" + folderFields + ")"},
	}

	var folders []Folder
	for {
		var page struct {
			NextPageToken string         `json:"nextPageToken"`
			Files         []fileResource `json:"files"`
		}
		if err := c.do(ctx, http.MethodGet, "/files", query, nil, &page); err != nil {
			return nil, fmt.Errorf("list folders under %s: %w", parentID, err)
		}

		for _, file := range page.Files {
			folders = append(folders, file.toFolder())
		}

		if page.NextPageToken == "" {
			return folders, nil
		}
		query.Set("pageToken", page.NextPageToken)
	}
}

func (c *GoogleClient) CreateFolder(ctx context.Context, parentID string, name string) (Folder, error) {
	query := url.Values{
		"supportsAllDrives": {"true"},
		"fields":            {folderFields},
	}
	body := map[string]any{
		"name":     name,
		"mimeType": folderMIMEType,
		"parents":  []string{parentID},
	}

	var resource fileResource
	if err := c.do(ctx, http.MethodPost, "/files", query, body, &resource); err != nil {
		return Folder{}, fmt.Errorf("create folder %q under %s: %w", name, parentID, err)
	}

	return resource.toFolder(), nil
}

func (c *GoogleClient) RenameFolder(ctx context.Context, folderID string, newName string) error {
	query := url.Values{
		"supportsAllDrives": {"true"},
		"fields":            {"id, name"},
	}

	if err := c.do(ctx, http.MethodPatch, "/files/"+url.PathEscape(folderID), query,
		map[string]any{"name": newName}, nil); err != nil {
		return fmt.Errorf("rename folder %s: %w", folderID, err)
	}
	return nil
}

func (c *GoogleClient) ListPermissions(ctx context.Context, folderID string) ([]model.ObservedGrant, error) {
	query := url.Values{
		"supportsAllDrives": {"true"},
		"fields":            {permissionQuery},
	}

	var page struct {
		Permissions []model.ObservedGrant `json:"permissions"`
	}
	if err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(folderID)+"/permissions", query, nil, &page); err != nil {
		return nil, fmt.Errorf("list permissions on %s: %w", folderID, err)
	}

	return page.Permissions, nil
}

func (c *GoogleClient) AddPermission(ctx context.Context, folderID string, principal model.Principal) (string, error) {
	query := url.Values{
		"supportsAllDrives":     {"true"},
		"sendNotificationEmail": {"false"},
		"fields":                {"id, type, role, emailAddress"},
	}

	// organizer only exists at the drive root; folders take fileOrganizer.
	role := principal.Role
	if role == model.RoleOrganizer {
		role = model.RoleFileOrganizer
	}

	body := map[string]any{
		"type":         string(principal.Type),
		"role":         role,
		"emailAddress": principal.Identifier,
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/files/"+url.PathEscape(folderID)+"/permissions", query, body, &created); err != nil {
		return "", fmt.Errorf("add %s %s on %s: %w", principal.Type, principal.Identifier, folderID, err)
	}

	return created.ID, nil
}

func (c *GoogleClient) RemovePermission(ctx context.Context, folderID string, grantID string) error {
	query := url.Values{"supportsAllDrives": {"true"}}

	path := "/files/" + url.PathEscape(folderID) + "/permissions/" + url.PathEscape(grantID)
	if err := c.do(ctx, http.MethodDelete, path, query, nil, nil); err != nil {
		return fmt.Errorf("remove permission %s on %s: %w", grantID, folderID, err)
	}
	return nil
}

func (c *GoogleClient) SetLimitedAccess(ctx context.Context, folderID string, enabled bool) error {
	query := url.Values{
		"supportsAllDrives": {"true"},
		"fields":            {"id, inheritedPermissionsDisabled"},
	}

	if err := c.do(ctx, http.MethodPatch, "/files/"+url.PathEscape(folderID), query,
		map[string]any{"inheritedPermissionsDisabled": enabled}, nil); err != nil {
		return fmt.Errorf("set limited access on %s: %w", folderID, err)
	}
	return nil
}

func (c *GoogleClient) do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}

	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("acquire access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.asError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *GoogleClient) asError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := strings.TrimSpace(string(payload))
	if json.Unmarshal(payload, &parsed) == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", model.ErrFolderNotFound, message)
	case resp.StatusCode == http.StatusForbidden:
		// The API reports rate limiting as 403 with a rate-limit reason as
		// well as 429.
		if strings.Contains(strings.ToLower(message), "rate limit") {
			return fmt.Errorf("%w: %s", model.ErrRateLimited, message)
		}
		return fmt.Errorf("%w: %s", model.ErrPermissionDenied, message)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", model.ErrRateLimited, message)
	case resp.StatusCode >= 500:
		return &TransientError{Err: fmt.Errorf("backend %d: %s", resp.StatusCode, message)}
	}

	return fmt.Errorf("backend %d: %s", resp.StatusCode, message)
}
