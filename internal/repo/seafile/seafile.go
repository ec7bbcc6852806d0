// Package seafile implements the repository interface against the
// Seafile web API: token authentication, JSON directory listings and
// the two-step download/upload link protocol.
package seafile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seafile-fuse/seafs-go/internal/repo"
)

// repoIDLen is the length of a server-issued repository identifier
const repoIDLen = 36

const defaultTimeout = 30 * time.Second

// Client talks to one Seafile server on behalf of one account
type Client struct {
	server string
	token  string
	http   *http.Client
}

// NewClient creates a client for the given server base URL
func NewClient(server string) *Client {
	return &Client{
		server: strings.TrimSuffix(server, "/"),
		http:   &http.Client{Timeout: defaultTimeout},
	}
}

// Authenticate obtains an API token for the account. All later calls
// carry the token.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.server+"/api2/auth-token/", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("authenticate: empty token in response")
	}
	c.token = out.Token
	return nil
}

// ListRepos lists the repositories visible to the account
func (c *Client) ListRepos(ctx context.Context) ([]repo.Info, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api2/repos/", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.doJSON(req, &raw); err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	infos := make([]repo.Info, 0, len(raw))
	for _, r := range raw {
		infos = append(infos, repo.Info{ID: r.ID, Name: r.Name})
	}
	return infos, nil
}

// SelectRepo binds the client to one repository: the one matching id,
// or the first repository on the server when id is empty.
func (c *Client) SelectRepo(ctx context.Context, id string) (*Repo, error) {
	if id != "" && len(id) != repoIDLen {
		return nil, fmt.Errorf("malformed repository id %q", id)
	}
	infos, err := c.ListRepos(ctx)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("no repositories available: %w", repo.ErrNotFound)
	}
	if id == "" {
		return &Repo{client: c, id: infos[0].ID}, nil
	}
	for _, info := range infos {
		if info.ID == id {
			return &Repo{client: c, id: info.ID}, nil
		}
	}
	return nil, fmt.Errorf("repository %s: %w", id, repo.ErrNotFound)
}

// Repo is a client bound to a single repository. It implements
// repo.Repository.
type Repo struct {
	client *Client
	id     string
}

var _ repo.Repository = (*Repo)(nil)

// ID returns the bound repository identifier
func (r *Repo) ID() string {
	return r.id
}

type dirent struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// ListEntries lists the immediate children of dirPath. The server
// always serves the current state; forceRefresh exists for backends
// that cache server side.
func (r *Repo) ListEntries(ctx context.Context, dirPath string, forceRefresh bool) ([]repo.Entry, error) {
	req, err := r.client.newRequest(ctx, http.MethodGet,
		"/api2/repos/"+r.id+"/dir/?p="+url.QueryEscape(dirPath), nil)
	if err != nil {
		return nil, err
	}
	var raw []dirent
	if err := r.client.doJSON(req, &raw); err != nil {
		return nil, fmt.Errorf("list %s: %w", dirPath, err)
	}

	entries := make([]repo.Entry, 0, len(raw))
	for _, d := range raw {
		kind := repo.KindFile
		if d.Type == "dir" {
			kind = repo.KindDir
		}
		mtime := time.Unix(d.Mtime, 0)
		entries = append(entries, repo.Entry{
			Name:  d.Name,
			Kind:  kind,
			Size:  d.Size,
			Ctime: mtime,
			Mtime: mtime,
		})
	}
	return entries, nil
}

// FileContent downloads a file. The API hands out a one-time download
// link which is then fetched directly.
func (r *Repo) FileContent(ctx context.Context, p string) ([]byte, error) {
	req, err := r.client.newRequest(ctx, http.MethodGet,
		"/api2/repos/"+r.id+"/file/?p="+url.QueryEscape(p), nil)
	if err != nil {
		return nil, err
	}
	var link string
	if err := r.client.doJSON(req, &link); err != nil {
		return nil, fmt.Errorf("download link %s: %w", p, err)
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.http.Do(dlReq)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", p, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", p, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Upload stores data as dirPath/name, replacing any existing file.
// The API hands out an upload link which takes a multipart POST.
func (r *Repo) Upload(ctx context.Context, dirPath, name string, data []byte) error {
	req, err := r.client.newRequest(ctx, http.MethodGet,
		"/api2/repos/"+r.id+"/upload-link/?p="+url.QueryEscape(dirPath), nil)
	if err != nil {
		return err
	}
	var link string
	if err := r.client.doJSON(req, &link); err != nil {
		return fmt.Errorf("upload link %s: %w", dirPath, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("parent_dir", dirPath); err != nil {
		return err
	}
	if err := mw.WriteField("replace", "1"); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	upReq, err := http.NewRequestWithContext(ctx, http.MethodPost, link, &body)
	if err != nil {
		return err
	}
	upReq.Header.Set("Content-Type", mw.FormDataContentType())
	r.client.applyAuth(upReq)

	resp, err := r.client.http.Do(upReq)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", dirPath, name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s/%s: status %d", dirPath, name, resp.StatusCode)
	}
	return nil
}

// MakeDirectory creates dirPath/name
func (r *Repo) MakeDirectory(ctx context.Context, dirPath, name string) error {
	target := joinPath(dirPath, name)
	form := url.Values{}
	form.Set("operation", "mkdir")
	return r.fileOp(ctx, http.MethodPost, "/api2/repos/"+r.id+"/dir/", target, form)
}

// DeleteDirectory removes the directory at p
func (r *Repo) DeleteDirectory(ctx context.Context, p string) error {
	return r.fileOp(ctx, http.MethodDelete, "/api2/repos/"+r.id+"/dir/", p, nil)
}

// DeleteFile removes the file at p
func (r *Repo) DeleteFile(ctx context.Context, p string) error {
	return r.fileOp(ctx, http.MethodDelete, "/api2/repos/"+r.id+"/file/", p, nil)
}

// RenameFile renames the file at p within its directory
func (r *Repo) RenameFile(ctx context.Context, p, newName string) error {
	form := url.Values{}
	form.Set("operation", "rename")
	form.Set("newname", newName)
	return r.fileOp(ctx, http.MethodPost, "/api2/repos/"+r.id+"/file/", p, form)
}

// MoveFile moves the file at p into targetDir within the same
// repository
func (r *Repo) MoveFile(ctx context.Context, p, targetDir string) error {
	form := url.Values{}
	form.Set("operation", "move")
	form.Set("dst_repo", r.id)
	form.Set("dst_dir", targetDir)
	return r.fileOp(ctx, http.MethodPost, "/api2/repos/"+r.id+"/file/", p, form)
}

// fileOp performs a form-encoded operation on the file or dir
// endpoint for path p
func (r *Repo) fileOp(ctx context.Context, method, endpoint, p string, form url.Values) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := r.client.newRequest(ctx, method, endpoint+"?p="+url.QueryEscape(p), body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := r.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, p, err)
	}
	defer resp.Body.Close()
	return checkStatus(resp, p)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.server+path, body)
	if err != nil {
		return nil, err
	}
	c.applyAuth(req)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
}

// doJSON executes the request and decodes a JSON body into out
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, req.URL.Path); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response, what string) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", what, repo.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s: status %d", what, resp.StatusCode)
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
