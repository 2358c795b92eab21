package sync

import (
	"os"
	"path/filepath"
)

func readHostFile(path string) ([]byte, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(expanded)
}

type hostDirEntry struct {
	hostPath string
	relPath  string
}

func listHostDir(path string) ([]hostDirEntry, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	var entries []hostDirEntry
	err = filepath.WalkDir(expanded, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(expanded, p)
		if err != nil {
			return err
		}
		entries = append(entries, hostDirEntry{hostPath: p, relPath: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func expandHome(path string) (string, error) {
	if len(path) < 2 || path[:2] != "~/" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}
