// Package git reads repository metadata for session enrichment. Every call
// shells out to git under the caller's context and never writes.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoUpstream is returned by AheadBehind when neither @{upstream} nor
// origin/<branch> resolves.
var ErrNoUpstream = errors.New("git: no upstream")

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsGitRepo checks if the given directory is inside a git repository
func IsGitRepo(ctx context.Context, dir string) bool {
	_, err := run(ctx, dir, "rev-parse", "--git-dir")
	return err == nil
}

// GetRepoRoot returns the root directory of the git repository containing dir
func GetRepoRoot(ctx context.Context, dir string) (string, error) {
	root, err := run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return root, nil
}

// GetCurrentBranch returns the current branch name for the repository at dir
func GetCurrentBranch(ctx context.Context, dir string) (string, error) {
	branch, err := run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return branch, nil
}

// GetGitHubURL returns the browser URL of origin, or "" when origin is not
// hosted on GitHub.
func GetGitHubURL(ctx context.Context, dir string) (string, error) {
	remote, err := run(ctx, dir, "remote", "get-url", "origin")
	if err != nil {
		return "", err
	}
	return NormalizeGitHubURL(remote), nil
}

// NormalizeGitHubURL turns git@github.com:user/repo.git and
// https://github.com/user/repo.git into https://github.com/user/repo.
// Other hosts yield "".
func NormalizeGitHubURL(remote string) string {
	remote = strings.TrimSpace(remote)
	switch {
	case strings.HasPrefix(remote, "git@github.com:"):
		path := strings.TrimSuffix(strings.TrimPrefix(remote, "git@github.com:"), ".git")
		return "https://github.com/" + path
	case strings.HasPrefix(remote, "https://github.com/"):
		return strings.TrimSuffix(remote, ".git")
	}
	return ""
}

// RepoName returns "user/repo" for a GitHub URL.
func RepoName(githubURL string) string {
	path, ok := strings.CutPrefix(githubURL, "https://github.com/")
	if !ok || !strings.Contains(path, "/") {
		return ""
	}
	return path
}

// IsWorktree checks if the given directory is a git worktree (not the main repo)
func IsWorktree(ctx context.Context, dir string) bool {
	commonDir, err := run(ctx, dir, "rev-parse", "--git-common-dir")
	if err != nil {
		return false
	}
	gitDir, err := run(ctx, dir, "rev-parse", "--git-dir")
	if err != nil {
		return false
	}

	// If common-dir and git-dir differ, it's a worktree
	return commonDir != gitDir && commonDir != "."
}

// AheadBehind counts commits HEAD is ahead of and behind its upstream,
// falling back to origin/<branch> when no upstream is configured.
func AheadBehind(ctx context.Context, dir, branch string) (ahead, behind int, err error) {
	out, err := run(ctx, dir, "rev-list", "--left-right", "--count", "HEAD...@{upstream}")
	if err != nil && branch != "" {
		out, err = run(ctx, dir, "rev-list", "--left-right", "--count", "HEAD...origin/"+branch)
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, 0, ctx.Err()
		}
		return 0, 0, ErrNoUpstream
	}
	return parseLeftRight(out)
}

func parseLeftRight(out string) (int, int, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("git rev-list: unexpected output %q", out)
	}
	ahead, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("git rev-list: %w", err)
	}
	behind, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("git rev-list: %w", err)
	}
	return ahead, behind, nil
}
