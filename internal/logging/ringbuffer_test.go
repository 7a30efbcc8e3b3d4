package logging

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLineRingKeepsRecent(t *testing.T) {
	r := NewLineRing(3)

	for _, line := range []string{"a", "b", "c", "d", "e"} {
		if _, err := r.Write([]byte(line + "\n")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	got := r.Lines()
	want := []string{"c", "d", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestLineRingPartialFill(t *testing.T) {
	r := NewLineRing(10)

	_, _ = r.Write([]byte("one\n"))
	_, _ = r.Write([]byte("two\n"))

	got := r.Lines()
	want := []string{"one", "two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
}

func TestLineRingMultiLineWrite(t *testing.T) {
	r := NewLineRing(5)

	_, _ = r.Write([]byte("first\nsecond\nthird\n"))

	got := r.Lines()
	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
}

func TestLineRingEmptyWrite(t *testing.T) {
	r := NewLineRing(5)

	n, err := r.Write([]byte("\n"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestLineRingDumpToFile(t *testing.T) {
	r := NewLineRing(4)
	_, _ = r.Write([]byte("alpha\nbeta\n"))

	path := filepath.Join(t.TempDir(), "dump.log")
	if err := r.DumpToFile(path); err != nil {
		t.Fatalf("DumpToFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "alpha\nbeta\n" {
		t.Errorf("dump content = %q, want %q", string(data), "alpha\nbeta\n")
	}
}
