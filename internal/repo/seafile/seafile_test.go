package seafile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/seafile-fuse/seafs-go/internal/repo"
)

const testRepoID = "0123456789abcdef0123456789abcdef0123"

func authedClient(server string) *Client {
	c := NewClient(server)
	c.token = "test-token"
	return c
}

func TestAuthenticate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api2/auth-token/" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm failed: %v", err)
		}
		if r.PostForm.Get("username") != "alice" || r.PostForm.Get("password") != "secret" {
			t.Errorf("Unexpected credentials %v", r.PostForm)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "abc123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Authenticate(context.Background(), "alice", "secret"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if c.token != "abc123" {
		t.Errorf("Expected token abc123, got %q", c.token)
	}
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"non_field_errors":["Unable to login"]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Authenticate(context.Background(), "alice", "wrong"); err == nil {
		t.Fatal("Expected authentication error")
	}
}

func TestSelectRepoByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token test-token" {
			t.Errorf("Missing token header, got %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": strings.Repeat("f", 36), "name": "other"},
			{"id": testRepoID, "name": "docs"},
		})
	}))
	defer srv.Close()

	c := authedClient(srv.URL)
	rp, err := c.SelectRepo(context.Background(), testRepoID)
	if err != nil {
		t.Fatalf("SelectRepo failed: %v", err)
	}
	if rp.ID() != testRepoID {
		t.Errorf("Expected repo %s, got %s", testRepoID, rp.ID())
	}
}

func TestSelectRepoDefaultsToFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": testRepoID, "name": "docs"},
			{"id": strings.Repeat("f", 36), "name": "other"},
		})
	}))
	defer srv.Close()

	c := authedClient(srv.URL)
	rp, err := c.SelectRepo(context.Background(), "")
	if err != nil {
		t.Fatalf("SelectRepo failed: %v", err)
	}
	if rp.ID() != testRepoID {
		t.Errorf("Expected first repo, got %s", rp.ID())
	}
}

func TestSelectRepoMalformedID(t *testing.T) {
	c := authedClient("http://unused")
	if _, err := c.SelectRepo(context.Background(), "short-id"); err == nil {
		t.Fatal("Expected error for malformed id")
	}
}

func TestSelectRepoUnknownID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{{"id": testRepoID, "name": "docs"}})
	}))
	defer srv.Close()

	c := authedClient(srv.URL)
	_, err := c.SelectRepo(context.Background(), strings.Repeat("0", 36))
	if !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api2/repos/"+testRepoID+"/dir/" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("p"); got != "/docs" {
			t.Errorf("Expected p=/docs, got %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"name": "report.txt", "type": "file", "size": 42, "mtime": 1700000000},
			{"name": "images", "type": "dir", "size": 0, "mtime": 1700000000},
		})
	}))
	defer srv.Close()

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	entries, err := rp.ListEntries(context.Background(), "/docs", false)
	if err != nil {
		t.Fatalf("ListEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Name != "report.txt" || entries[0].Kind != repo.KindFile || entries[0].Size != 42 {
		t.Errorf("Unexpected file entry %+v", entries[0])
	}
	if entries[1].Name != "images" || !entries[1].IsDir() {
		t.Errorf("Unexpected dir entry %+v", entries[1])
	}
}

func TestListEntriesMissingDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	_, err := rp.ListEntries(context.Background(), "/nope", false)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFileContentTwoStep(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api2/repos/"+testRepoID+"/file/", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("p"); got != "/docs/report.txt" {
			t.Errorf("Expected p=/docs/report.txt, got %q", got)
		}
		json.NewEncoder(w).Encode(srv.URL + "/seafhttp/files/token/report.txt")
	})
	mux.HandleFunc("/seafhttp/files/token/report.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("file body"))
	})

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	data, err := rp.FileContent(context.Background(), "/docs/report.txt")
	if err != nil {
		t.Fatalf("FileContent failed: %v", err)
	}
	if !bytes.Equal(data, []byte("file body")) {
		t.Errorf("Expected %q, got %q", "file body", data)
	}
}

func TestUploadTwoStep(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api2/repos/"+testRepoID+"/upload-link/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(srv.URL + "/seafhttp/upload-api/token")
	})
	var uploaded []byte
	mux.HandleFunc("/seafhttp/upload-api/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm failed: %v", err)
		}
		if got := r.FormValue("parent_dir"); got != "/docs" {
			t.Errorf("Expected parent_dir=/docs, got %q", got)
		}
		if got := r.FormValue("replace"); got != "1" {
			t.Errorf("Expected replace=1, got %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile failed: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "report.txt" {
			t.Errorf("Expected filename report.txt, got %q", hdr.Filename)
		}
		buf := new(bytes.Buffer)
		buf.ReadFrom(f)
		uploaded = buf.Bytes()
		w.Write([]byte(`"ok"`))
	})

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	if err := rp.Upload(context.Background(), "/docs", "report.txt", []byte("new content")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if !bytes.Equal(uploaded, []byte("new content")) {
		t.Errorf("Expected uploaded content %q, got %q", "new content", uploaded)
	}
}

func TestMakeDirectory(t *testing.T) {
	var gotForm url.Values
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
		gotPath = r.URL.Query().Get("p")
	}))
	defer srv.Close()

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	if err := rp.MakeDirectory(context.Background(), "/docs", "images"); err != nil {
		t.Fatalf("MakeDirectory failed: %v", err)
	}
	if gotPath != "/docs/images" {
		t.Errorf("Expected p=/docs/images, got %q", gotPath)
	}
	if gotForm.Get("operation") != "mkdir" {
		t.Errorf("Expected operation=mkdir, got %v", gotForm)
	}
}

func TestRenameFile(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
	}))
	defer srv.Close()

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	if err := rp.RenameFile(context.Background(), "/docs/a.txt", "b.txt"); err != nil {
		t.Fatalf("RenameFile failed: %v", err)
	}
	if gotForm.Get("operation") != "rename" || gotForm.Get("newname") != "b.txt" {
		t.Errorf("Unexpected form %v", gotForm)
	}
}

func TestMoveFile(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = r.PostForm
	}))
	defer srv.Close()

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	if err := rp.MoveFile(context.Background(), "/docs/a.txt", "/archive"); err != nil {
		t.Fatalf("MoveFile failed: %v", err)
	}
	if gotForm.Get("operation") != "move" {
		t.Errorf("Expected operation=move, got %v", gotForm)
	}
	if gotForm.Get("dst_repo") != testRepoID || gotForm.Get("dst_dir") != "/archive" {
		t.Errorf("Unexpected destination %v", gotForm)
	}
}

func TestDeleteFile(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Query().Get("p")
	}))
	defer srv.Close()

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	if err := rp.DeleteFile(context.Background(), "/docs/a.txt"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/docs/a.txt" {
		t.Errorf("Expected DELETE p=/docs/a.txt, got %s %q", gotMethod, gotPath)
	}
}

func TestDeleteMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	rp := &Repo{client: authedClient(srv.URL), id: testRepoID}
	err := rp.DeleteFile(context.Background(), "/nope")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
