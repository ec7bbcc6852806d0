package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromPasswdFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	if err := os.WriteFile(path, []byte("alice@example.com:s3cret\n"), 0600); err != nil {
		t.Fatalf("Failed to write passwd file: %v", err)
	}

	c := NewCredentials()
	if err := c.LoadFromPasswdFile(path); err != nil {
		t.Fatalf("LoadFromPasswdFile failed: %v", err)
	}
	if c.Username != "alice@example.com" || c.Password != "s3cret" {
		t.Errorf("Unexpected credentials %q/%q", c.Username, c.Password)
	}
	if !c.IsValid() {
		t.Error("Expected valid credentials")
	}
}

func TestLoadFromPasswdFilePasswordWithColon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	if err := os.WriteFile(path, []byte("alice:pa:ss:wd"), 0600); err != nil {
		t.Fatalf("Failed to write passwd file: %v", err)
	}

	c := NewCredentials()
	if err := c.LoadFromPasswdFile(path); err != nil {
		t.Fatalf("LoadFromPasswdFile failed: %v", err)
	}
	if c.Password != "pa:ss:wd" {
		t.Errorf("Password split on extra colons, got %q", c.Password)
	}
}

func TestLoadFromPasswdFileInvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	if err := os.WriteFile(path, []byte("no-separator"), 0600); err != nil {
		t.Fatalf("Failed to write passwd file: %v", err)
	}

	c := NewCredentials()
	if err := c.LoadFromPasswdFile(path); err == nil {
		t.Fatal("Expected format error")
	}
}

func TestLoadFromPasswdFileMissing(t *testing.T) {
	c := NewCredentials()
	if err := c.LoadFromPasswdFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("Expected read error")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SEAFILE_USERNAME", "alice")
	t.Setenv("SEAFILE_PASSWORD", "secret")

	c := NewCredentials()
	if err := c.LoadFromEnvironment(); err != nil {
		t.Fatalf("LoadFromEnvironment failed: %v", err)
	}
	if c.Username != "alice" || c.Password != "secret" {
		t.Errorf("Unexpected credentials %q/%q", c.Username, c.Password)
	}
}

func TestLoadFromEnvironmentMissing(t *testing.T) {
	t.Setenv("SEAFILE_USERNAME", "alice")
	t.Setenv("SEAFILE_PASSWORD", "")

	c := NewCredentials()
	if err := c.LoadFromEnvironment(); err == nil {
		t.Fatal("Expected error for missing password")
	}
}

func TestIsValid(t *testing.T) {
	c := NewCredentials()
	if c.IsValid() {
		t.Error("Empty credentials reported valid")
	}
	c.Username = "alice"
	if c.IsValid() {
		t.Error("Missing password reported valid")
	}
	c.Password = "secret"
	if !c.IsValid() {
		t.Error("Complete credentials reported invalid")
	}
}
