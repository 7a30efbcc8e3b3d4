// Package git shells out to the git CLI for repository inspection and
// diff content. All functions take the directory to operate in; none of
// them require the process working directory to be inside a repository.
package git

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// IsGitRepo checks if the given directory is inside a git repository
func IsGitRepo(dir string) bool {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--git-dir")
	err := cmd.Run()
	return err == nil
}

// GetRepoRoot returns the root directory of the git repository containing dir
func GetRepoRoot(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// GetCurrentBranch returns the current branch name for the repository at dir
func GetCurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// BranchExists checks if a branch exists in the repository
func BranchExists(repoDir, branchName string) bool {
	cmd := exec.Command("git", "-C", repoDir, "show-ref", "--verify", "--quiet", "refs/heads/"+branchName)
	err := cmd.Run()
	return err == nil
}

// LocalBranches lists local branch names in ref order.
func LocalBranches(repoDir string) ([]string, error) {
	cmd := exec.Command("git", "-C", repoDir, "for-each-ref", "--format=%(refname:short)", "refs/heads/")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	var branches []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// GetDefaultBranch picks the branch to diff against when none is given.
// It tries, in order: the remote HEAD, the configured init.defaultBranch,
// the conventional names, the first local branch. It always returns
// something usable; callers surface a diff failure, not a lookup failure.
func GetDefaultBranch(repoDir string) string {
	cmd := exec.Command("git", "-C", repoDir, "symbolic-ref", "refs/remotes/origin/HEAD")
	if output, err := cmd.Output(); err == nil {
		ref := strings.TrimSpace(string(output))
		branch := strings.TrimPrefix(ref, "refs/remotes/origin/")
		if branch != ref && branch != "" {
			return branch
		}
	}

	cmd = exec.Command("git", "-C", repoDir, "config", "init.defaultBranch")
	if output, err := cmd.Output(); err == nil {
		if branch := strings.TrimSpace(string(output)); branch != "" && BranchExists(repoDir, branch) {
			return branch
		}
	}

	for _, branch := range []string{"main", "master", "develop"} {
		if BranchExists(repoDir, branch) {
			return branch
		}
	}

	if branches, err := LocalBranches(repoDir); err == nil && len(branches) > 0 {
		return branches[0]
	}

	return "main"
}

// ValidateBranchName validates that a branch name follows git's naming
// rules. Names starting with "-" are rejected so a branch can never be
// smuggled into a git invocation as a flag.
func ValidateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}

	if strings.HasPrefix(name, "-") {
		return errors.New("branch name cannot start with '-'")
	}

	if strings.TrimSpace(name) != name {
		return errors.New("branch name cannot have leading or trailing spaces")
	}

	if strings.Contains(name, "..") {
		return errors.New("branch name cannot contain '..'")
	}

	if strings.HasPrefix(name, ".") {
		return errors.New("branch name cannot start with '.'")
	}

	if strings.HasSuffix(name, ".lock") {
		return errors.New("branch name cannot end with '.lock'")
	}

	invalidChars := []string{" ", "\t", "~", "^", ":", "?", "*", "[", "\\"}
	for _, char := range invalidChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("branch name cannot contain '%s'", char)
		}
	}

	if strings.Contains(name, "@{") {
		return errors.New("branch name cannot contain '@{'")
	}

	if name == "@" {
		return errors.New("branch name cannot be just '@'")
	}

	return nil
}

// UntrackedFiles returns repo-relative paths of files git does not track,
// honoring .gitignore.
func UntrackedFiles(repoDir string) ([]string, error) {
	cmd := exec.Command("git", "-C", repoDir, "ls-files", "--others", "--exclude-standard")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list untracked files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// DiffUnstaged returns the working-tree diff against the index.
func DiffUnstaged(repoDir string) ([]byte, error) {
	return runDiff(repoDir, "diff")
}

// DiffStaged returns the index diff against HEAD.
func DiffStaged(repoDir string) ([]byte, error) {
	return runDiff(repoDir, "diff", "--cached")
}

// DiffLastCommit returns the diff introduced by the most recent commit.
func DiffLastCommit(repoDir string) ([]byte, error) {
	return runDiff(repoDir, "diff", "HEAD~1", "HEAD")
}

// DiffBranch returns the diff from base to HEAD. The base name is
// validated before it reaches the command line.
func DiffBranch(repoDir, base string) ([]byte, error) {
	if err := ValidateBranchName(base); err != nil {
		return nil, fmt.Errorf("invalid base branch: %w", err)
	}
	return runDiff(repoDir, "diff", base, "HEAD")
}

// DiffUntracked synthesizes a creation diff for one untracked file by
// comparing it against the null device. relPath is repo-relative, as
// returned by UntrackedFiles.
func DiffUntracked(repoDir, relPath string) ([]byte, error) {
	// --no-index exits 1 when the files differ, which for a non-empty
	// untracked file is the expected outcome.
	cmd := exec.Command("git", "-C", repoDir, "diff", "--no-index", "--", os.DevNull, relPath)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return output, nil
		}
		return nil, diffError(err)
	}
	return output, nil
}

// runDiff executes git with the given subcommand args and returns stdout.
func runDiff(repoDir string, args ...string) ([]byte, error) {
	full := append([]string{"-C", repoDir}, args...)
	cmd := exec.Command("git", full...)
	output, err := cmd.Output()
	if err != nil {
		return nil, diffError(err)
	}
	return output, nil
}

// diffError folds captured stderr into the returned error so callers can
// show the git message verbatim.
func diffError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("git diff failed: %s: %w", strings.TrimSpace(string(exitErr.Stderr)), err)
	}
	return fmt.Errorf("git diff failed: %w", err)
}
