package credentials

import (
	"fmt"
	"os"
	"strings"
)

// Credentials holds the Seafile account used for the mount. Loaded
// once at startup and passed into constructors; there is no global
// configuration state.
type Credentials struct {
	Username string
	Password string
}

// NewCredentials creates an empty credentials instance
func NewCredentials() *Credentials {
	return &Credentials{}
}

// LoadFromPasswdFile loads credentials from a passwd file in format
// USERNAME:PASSWORD
func (c *Credentials) LoadFromPasswdFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read passwd file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	parts := strings.SplitN(content, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid passwd file format, expected USERNAME:PASSWORD")
	}

	c.Username = strings.TrimSpace(parts[0])
	c.Password = strings.TrimSpace(parts[1])
	return nil
}

// LoadFromEnvironment loads credentials from the SEAFILE_USERNAME and
// SEAFILE_PASSWORD environment variables
func (c *Credentials) LoadFromEnvironment() error {
	username := os.Getenv("SEAFILE_USERNAME")
	password := os.Getenv("SEAFILE_PASSWORD")

	if username == "" || password == "" {
		return fmt.Errorf("SEAFILE_USERNAME and SEAFILE_PASSWORD must be set")
	}

	c.Username = username
	c.Password = password
	return nil
}

// IsValid checks that both username and password are set
func (c *Credentials) IsValid() bool {
	return c.Username != "" && c.Password != ""
}
