package subprocess

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RouteToFile points a child process's stdout and stderr at a log file inside
// dir, creating it if needed and appending across worker restarts. The file
// descriptor is handed to the child directly so no output is lost when the
// process is killed. The caller owns closing the returned file once the
// process has been reaped.
func RouteToFile(cmd *exec.Cmd, dir, name string) (*os.File, error) {
	logPath := filepath.Join(dir, name)
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open worker log %s: %w", logPath, err)
	}
	cmd.Stdout = f
	cmd.Stderr = f
	return f, nil
}
