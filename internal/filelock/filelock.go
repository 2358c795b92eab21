// Package filelock provides the advisory, retrying file lock that guards
// perryd's on-disk JSON stores.
package filelock

import (
	"fmt"
	"math/rand"
	"os"
	"time"
)

const (
	maxRetries   = 5
	baseBackoff  = 100 * time.Millisecond
	maxBackoff   = 1 * time.Second
)

// Lock is a held advisory lock; release it by calling Unlock.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock at path (typically "<store>.lock"), retrying with
// bounded exponential backoff (100ms -> 1s, up to 5 retries) if another
// process currently holds it.
func Acquire(path string) (*Lock, error) {
	backoff := baseBackoff
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return &Lock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		time.Sleep(backoff + jitter)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("acquiring lock %s: held by another process: %w", path, lastErr)
}

// Unlock releases the lock and removes the lockfile.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.file.Close()
	return os.Remove(l.path)
}
