package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	databrickssdk "github.com/databricks/databricks-sdk-go"
	"github.com/databricks/databricks-sdk-go/client"
	"github.com/databricks/databricks-sdk-go/service/workspace"

	"drivefs/internal/logging"
	"drivefs/internal/retry"
)

// signedURLTimeout bounds direct-to-blob-store signed URL transfers.
const signedURLTimeout = 5 * time.Minute

// apiDoer is the thin slice of client.DatabricksClient used directly for
// workspace-files endpoints that the typed SDK doesn't expose.
type apiDoer interface {
	Do(ctx context.Context, method, path string,
		headers map[string]string, queryParams map[string]any, request, response any,
		visitors ...func(*http.Request) error) error
}

// workspaceAPI is the slice of workspace.WorkspaceInterface the client
// needs, kept narrow so tests can supply a fake.
type workspaceAPI interface {
	Export(ctx context.Context, request workspace.ExportRequest) (*workspace.ExportResponse, error)
	Delete(ctx context.Context, request workspace.Delete) error
	Mkdirs(ctx context.Context, request workspace.Mkdirs) error
}

type objectInfoEntry struct {
	ObjectInfo workspace.ObjectInfo `json:"object_info"`
	SignedURL  *struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers,omitempty"`
	} `json:"signed_url,omitempty"`
}

type listFilesResponse struct {
	Objects []objectInfoEntry `json:"objects"`
}

type objectInfoResponse struct {
	WsfsObjectInfo objectInfoEntry `json:"wsfs_object_info"`
}

// DatabricksClient implements Client against a Databricks workspace tree,
// addressed by absolute path the same way object storage addresses keys.
type DatabricksClient struct {
	workspace workspaceAPI
	api       apiDoer
}

// NewDatabricksClient builds a DatabricksClient from an authenticated SDK
// workspace client.
func NewDatabricksClient(w *databrickssdk.WorkspaceClient) (*DatabricksClient, error) {
	apiClient, err := client.New(w.Config)
	if err != nil {
		return nil, err
	}
	return NewDatabricksClientWithDeps(w.Workspace, apiClient), nil
}

// NewDatabricksClientWithDeps builds a DatabricksClient from its two
// narrow dependencies, for testing without a live workspace.
func NewDatabricksClientWithDeps(w workspaceAPI, api apiDoer) *DatabricksClient {
	return &DatabricksClient{workspace: w, api: api}
}

func toAttributes(info workspace.ObjectInfo) FileAttributes {
	kind := KindFile
	if info.ObjectType == workspace.ObjectTypeDirectory || info.ObjectType == workspace.ObjectTypeRepo {
		kind = KindDirectory
	}
	return FileAttributes{
		Name:             path.Base(info.Path),
		Path:             info.Path,
		Kind:             kind,
		SizeBytes:        info.Size,
		MTimeUnixSeconds: info.ModifiedAt / 1000,
	}
}

func (c *DatabricksClient) statObjectInfo(ctx context.Context, remotePath string) (objectInfoEntry, error) {
	var resp objectInfoResponse
	urlPath := fmt.Sprintf("/api/2.0/workspace-files/object-info?path=%s", url.QueryEscape(remotePath))
	if err := c.api.Do(ctx, http.MethodGet, urlPath, nil, nil, nil, &resp); err != nil {
		return objectInfoEntry{}, fmt.Errorf("stat %s: %w", remotePath, classifyErr(err))
	}
	return resp.WsfsObjectInfo, nil
}

func (c *DatabricksClient) List(ctx context.Context, dirPath string) ([]FileAttributes, error) {
	var resp listFilesResponse
	urlPath := fmt.Sprintf("/api/2.0/workspace-files/list-files?path=%s", url.QueryEscape(dirPath))
	if err := c.api.Do(ctx, http.MethodGet, urlPath, nil, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("list %s: %w", dirPath, classifyErr(err))
	}

	attrs := make([]FileAttributes, len(resp.Objects))
	for i, obj := range resp.Objects {
		attrs[i] = toAttributes(obj.ObjectInfo)
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Name < attrs[j].Name })
	return attrs, nil
}

// Download writes remotePath's content to localPath. It prefers a signed
// URL (cheap, direct-to-blob-store GET) and falls back to the
// workspace.Export API.
func (c *DatabricksClient) Download(ctx context.Context, remotePath, localPath string) error {
	entry, err := c.statObjectInfo(ctx, remotePath)
	if err != nil {
		return err
	}

	if entry.SignedURL != nil {
		if err := c.downloadSignedURL(ctx, entry.SignedURL.URL, entry.SignedURL.Headers, localPath); err == nil {
			logging.Debugf("download via signed URL succeeded for %s", remotePath)
			return nil
		} else {
			logging.Debugf("download via signed URL failed for %s, falling back to export: %v", remotePath, err)
		}
	}

	resp, err := c.workspace.Export(ctx, workspace.ExportRequest{Path: remotePath, Format: workspace.ExportFormatSource})
	if err != nil {
		return fmt.Errorf("export %s: %w", remotePath, classifyErr(err))
	}
	data, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return fmt.Errorf("decode export for %s: %w", remotePath, err)
	}
	return os.WriteFile(localPath, data, 0600)
}

func (c *DatabricksClient) downloadSignedURL(ctx context.Context, signedURL string, headers map[string]string, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, signedURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpClient := retry.NewHTTPClient(signedURLTimeout, retry.DefaultConfig())
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signed URL GET failed with status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, resp.Body)
	return err
}

// Upload reads localPath and writes it to remotePath, trying the
// workspace-files new-files API, then write-files, then the legacy
// import-file endpoint, mirroring the three-tier fallback the SDK's own
// CLI client uses.
func (c *DatabricksClient) Upload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read local file %s: %w", localPath, err)
	}

	if err := c.uploadViaNewFiles(ctx, remotePath, data); err == nil {
		logging.Debugf("upload via new-files succeeded for %s", remotePath)
		return nil
	} else if errors.Is(err, ErrConflict) {
		return err
	} else {
		logging.Debugf("upload via new-files failed for %s, trying write-files: %v", remotePath, err)
	}

	if err := c.uploadViaWriteFiles(ctx, remotePath, data); err == nil {
		logging.Debugf("upload via write-files succeeded for %s", remotePath)
		return nil
	} else if errors.Is(err, ErrConflict) {
		return err
	} else {
		logging.Debugf("upload via write-files failed for %s, falling back to import-file: %v", remotePath, err)
	}

	urlPath := fmt.Sprintf("/api/2.0/workspace-files/import-file/%s?overwrite=true",
		url.PathEscape(strings.TrimLeft(remotePath, "/")))
	if err := c.api.Do(ctx, http.MethodPost, urlPath, nil, nil, data, nil); err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, classifyErr(err))
	}
	return nil
}

func (c *DatabricksClient) uploadViaNewFiles(ctx context.Context, remotePath string, data []byte) error {
	reqBody := map[string]any{
		"path":    remotePath,
		"content": base64.StdEncoding.EncodeToString(data),
	}
	var resp struct {
		SignedURLs []struct {
			URL     string            `json:"url"`
			Headers map[string]string `json:"headers"`
		} `json:"signed_urls"`
	}
	if err := c.api.Do(ctx, http.MethodPost, "/api/2.0/workspace-files/new-files", nil, nil, reqBody, &resp); err != nil {
		return classifyErr(err)
	}
	if len(resp.SignedURLs) == 0 {
		return fmt.Errorf("no signed URL returned")
	}

	signed := resp.SignedURLs[0]
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signed.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	for k, v := range signed.Headers {
		req.Header.Set(k, v)
	}

	httpClient := retry.NewHTTPClient(signedURLTimeout, retry.DefaultConfig())
	resp2, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusOK && resp2.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp2.Body)
		return fmt.Errorf("signed URL PUT failed with status %d: %s", resp2.StatusCode, string(body))
	}
	return nil
}

func (c *DatabricksClient) uploadViaWriteFiles(ctx context.Context, remotePath string, data []byte) error {
	reqBody := map[string]any{
		"files": []map[string]any{{
			"path":      remotePath,
			"content":   base64.StdEncoding.EncodeToString(data),
			"overwrite": true,
		}},
	}
	if err := c.api.Do(ctx, http.MethodPost, "/api/2.0/workspace-files/write-files", nil, nil, reqBody, nil); err != nil {
		return classifyErr(err)
	}
	return nil
}

func (c *DatabricksClient) Mkdir(ctx context.Context, path string) error {
	if err := c.workspace.Mkdirs(ctx, workspace.Mkdirs{Path: path}); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, classifyErr(err))
	}
	return nil
}

func (c *DatabricksClient) Delete(ctx context.Context, path string) error {
	if err := c.workspace.Delete(ctx, workspace.Delete{Path: path, Recursive: false}); err != nil {
		return fmt.Errorf("delete %s: %w", path, classifyErr(err))
	}
	return nil
}

func (c *DatabricksClient) Move(ctx context.Context, src, dst string) error {
	reqBody := map[string]any{"source_path": src, "destination_path": dst}
	if err := c.api.Do(ctx, http.MethodPost, "/api/2.0/workspace/rename", nil, nil, reqBody, nil); err != nil {
		return fmt.Errorf("move %s -> %s: %w", src, dst, classifyErr(err))
	}
	return nil
}

// classifyErr maps a raw Databricks API error to one of our sentinel
// errors when its status/message says so, preserving the original error
// via %w for callers that want the detail.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "resource_does_not_exist") || strings.Contains(msg, "404"):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case strings.Contains(msg, "already exists") || strings.Contains(msg, "resource_already_exists") || strings.Contains(msg, "409"):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
