// Package diffview turns "show me this diff" requests into running difit
// child servers. The resolver produces diff bytes and a content
// fingerprint; the registry owns the child processes, one per window key,
// and decides reuse versus restart by comparing fingerprints.
package diffview

import (
	"fmt"
	"hash/maphash"
)

// Kind selects which diff a request is about.
type Kind string

const (
	KindUnstaged Kind = "unstaged"
	KindStaged   Kind = "staged"
	KindCommit   Kind = "commit"
	KindBranch   Kind = "branch"
)

// ParseKind maps a wire string onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUnstaged, KindStaged, KindCommit, KindBranch:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown diff type: %s", s)
	}
}

// hashSeed is fixed for the process lifetime. Window keys and content
// fingerprints are only ever compared within one process, so a per-process
// seed is exactly the stability needed.
var hashSeed = maphash.MakeSeed()

// HashContent fingerprints diff bytes for change detection. Not
// cryptographic: a collision merely reuses a stale viewer.
func HashContent(b []byte) uint64 {
	return maphash.Bytes(hashSeed, b)
}

// WindowKey derives the stable identifier for one logical diff view from
// the project directory and diff kind, plus the base branch for branch
// diffs. Same inputs always yield the same key within one process.
func WindowKey(projectDir string, kind Kind, baseBranch string) string {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	h.WriteString(projectDir)
	h.WriteByte(0)
	h.WriteString(string(kind))
	if kind == KindBranch && baseBranch != "" {
		h.WriteByte(0)
		h.WriteString(baseBranch)
	}
	return fmt.Sprintf("difit-%x", h.Sum64())
}
