package deps

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement defines an external executable quotarun relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// Dir resolves relative commands that contain a path separator, matching
	// how the worker is launched from its working directory.
	Dir string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(resolve(cmd, req.Dir))
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

func resolve(cmd, dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" || filepath.IsAbs(cmd) || !strings.ContainsRune(cmd, filepath.Separator) {
		return cmd
	}
	return filepath.Join(dir, cmd)
}
