package diffview

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/agent-lens/internal/git"
	"github.com/asheshgoplani/agent-lens/internal/logging"
)

// ErrNoContent means the requested diff is empty. It is "nothing to
// show", not a failure; callers present it as an informational message.
var ErrNoContent = errors.New("no diff content to display")

// Content is resolved diff bytes plus their fingerprint.
type Content struct {
	Bytes []byte
	Hash  uint64
}

// Resolver computes diff content by shelling out to git. Concurrent
// requests for the same (repo, kind, base) triple share one git
// invocation.
type Resolver struct {
	sf  singleflight.Group
	log *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{log: logging.ForComponent(logging.CompGit)}
}

// Resolve produces the diff bytes for the triple and their content hash.
// For unstaged diffs, synthetic creation diffs for untracked files are
// appended, so brand-new files show up alongside modifications.
// baseBranch is only consulted for KindBranch and must be non-empty there.
func (r *Resolver) Resolve(repoPath string, kind Kind, baseBranch string) (Content, error) {
	info, err := os.Stat(repoPath)
	if err != nil {
		return Content{}, fmt.Errorf("directory does not exist: %s", repoPath)
	}
	if !info.IsDir() {
		return Content{}, fmt.Errorf("path is not a directory: %s", repoPath)
	}
	if !git.IsGitRepo(repoPath) {
		return Content{}, fmt.Errorf("not a git repository: %s", repoPath)
	}

	key := repoPath + "\x00" + string(kind) + "\x00" + baseBranch
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.resolve(repoPath, kind, baseBranch)
	})
	if err != nil {
		return Content{}, err
	}
	return v.(Content), nil
}

func (r *Resolver) resolve(repoPath string, kind Kind, baseBranch string) (Content, error) {
	var diff []byte
	var err error

	switch kind {
	case KindUnstaged:
		diff, err = git.DiffUnstaged(repoPath)
		if err == nil {
			diff = append(diff, r.untrackedDiff(repoPath)...)
		}
	case KindStaged:
		diff, err = git.DiffStaged(repoPath)
	case KindCommit:
		diff, err = git.DiffLastCommit(repoPath)
	case KindBranch:
		if baseBranch == "" {
			return Content{}, errors.New("branch diff requires a base branch")
		}
		diff, err = git.DiffBranch(repoPath, baseBranch)
	default:
		return Content{}, fmt.Errorf("unknown diff type: %s", kind)
	}
	if err != nil {
		return Content{}, err
	}

	if len(diff) == 0 {
		return Content{}, ErrNoContent
	}

	return Content{Bytes: diff, Hash: HashContent(diff)}, nil
}

// untrackedDiff concatenates creation diffs for every untracked file.
// Best effort: files that cannot be diffed are skipped, never fatal.
func (r *Resolver) untrackedDiff(repoPath string) []byte {
	files, err := git.UntrackedFiles(repoPath)
	if err != nil {
		r.log.Debug("untracked_list_failed",
			slog.String("repo", repoPath),
			slog.String("error", err.Error()))
		return nil
	}

	var combined []byte
	for _, file := range files {
		fragment, err := git.DiffUntracked(repoPath, file)
		if err != nil {
			r.log.Debug("untracked_diff_failed",
				slog.String("file", file),
				slog.String("error", err.Error()))
			continue
		}
		combined = append(combined, fragment...)
	}
	return combined
}
