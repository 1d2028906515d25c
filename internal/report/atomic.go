package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// atomicWrite creates path via a temp file and rename so readers never
// observe a partially written artifact.
func atomicWrite(path string, write func(f *os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// writeJSONAtomic writes v as indented JSON.
func writeJSONAtomic(path string, v any) error {
	return atomicWrite(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// writeLinesAtomic writes newline-terminated records (JSONL and
// markdown artifacts).
func writeLinesAtomic(path string, lines [][]byte) error {
	return atomicWrite(path, func(f *os.File) error {
		for _, line := range lines {
			if _, err := fmt.Fprintf(f, "%s\n", line); err != nil {
				return err
			}
		}
		return nil
	})
}
