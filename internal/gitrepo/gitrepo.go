// Package gitrepo manages shallow local clones of GitLab repositories used
// for code indexing and analysis.
package gitrepo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	cloneTimeout = 300 * time.Second
	pullTimeout  = 60 * time.Second
	gitTimeout   = 10 * time.Second
)

// Manager clones and updates local repository copies under a base directory
type Manager struct {
	basePath string
	token    string
}

// NewManager creates a Manager storing clones under basePath, authenticating
// clone URLs with the given personal access token.
func NewManager(basePath, token string) *Manager {
	return &Manager{basePath: basePath, token: token}
}

// Path returns the local checkout directory for a project
func (m *Manager) Path(projectID int64) string {
	return filepath.Join(m.basePath, fmt.Sprintf("%d", projectID))
}

// authURL injects oauth2 token credentials into an HTTP clone URL
func (m *Manager) authURL(cloneURL string) (string, error) {
	u, err := url.Parse(cloneURL)
	if err != nil {
		return "", fmt.Errorf("invalid clone URL: %w", err)
	}
	u.User = url.UserPassword("oauth2", m.token)
	return u.String(), nil
}

func run(ctx context.Context, timeout time.Duration, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Ensure makes sure an up-to-date shallow clone exists for the project and
// returns its path. An existing clone gets a fast-forward pull; pull failures
// are logged and the stale checkout is used as-is.
func (m *Manager) Ensure(ctx context.Context, projectID int64, cloneURL string) (string, error) {
	path := m.Path(projectID)

	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		if _, err := run(ctx, pullTimeout, path, "pull", "--ff-only"); err != nil {
			slog.Warn("git pull failed, using existing checkout", "project_id", projectID, "error", err)
		}
		return path, nil
	}

	if err := os.MkdirAll(m.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create repos dir: %w", err)
	}

	authedURL, err := m.authURL(cloneURL)
	if err != nil {
		return "", err
	}
	if _, err := run(ctx, cloneTimeout, m.basePath, "clone", "--depth=1", authedURL, path); err != nil {
		return "", fmt.Errorf("failed to clone project %d: %w", projectID, err)
	}
	return path, nil
}

// Head returns the current HEAD commit of the local checkout
func (m *Manager) Head(ctx context.Context, projectID int64) (string, error) {
	return run(ctx, gitTimeout, m.Path(projectID), "rev-parse", "HEAD")
}

// ChangedFiles returns paths changed between two commits. An unknown old
// commit (e.g. pruned by the shallow clone) yields an error; callers fall
// back to a full re-walk.
func (m *Manager) ChangedFiles(ctx context.Context, projectID int64, oldCommit, newCommit string) ([]string, error) {
	out, err := run(ctx, gitTimeout, m.Path(projectID), "diff", "--name-only", oldCommit, newCommit)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Remove deletes the local checkout for a project
func (m *Manager) Remove(projectID int64) error {
	return os.RemoveAll(m.Path(projectID))
}
