package main

import "testing"

func TestResolveDiffKind(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    string
		wantErr bool
	}{
		{"default empty", "", "unstaged", false},
		{"unstaged", "unstaged", "unstaged", false},
		{"staged", "staged", "staged", false},
		{"last-commit maps to commit", "last-commit", "commit", false},
		{"commit accepted directly", "commit", "commit", false},
		{"branch", "branch", "branch", false},
		{"unknown kind", "everything", "", true},
		{"case matters", "Staged", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDiffKind(tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveDiffKind(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveDiffKind(%q) = %q, want %q", tt.arg, got, tt.want)
			}
		})
	}
}
