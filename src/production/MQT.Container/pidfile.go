package container

import (
	"fmt"
	"os"
	"strconv"
)

// WritePIDFile writes the current process id to path and returns a func removing it
func WritePIDFile(path string) (func() error, error) {
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	return func() error {
		// Another instance may have taken over the file since
		data, err := os.ReadFile(path)
		if err != nil || string(data) != strconv.Itoa(pid)+"\n" {
			return nil
		}
		return os.Remove(path)
	}, nil
}
