package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/sys/unix"

	"quotarun/internal/config"
	"quotarun/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDirectoryReadable verifies read access only. A missing directory
// passes because the worker creates it on its first success.
func CheckDirectoryReadable(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Passed: true, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not created yet)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// CheckWorker verifies the worker command resolves to an executable.
func CheckWorker(cfg *config.Config) Result {
	const name = "Worker"

	statuses := deps.CheckBinaries([]deps.Requirement{{
		Name:        name,
		Command:     cfg.WorkerBinary(),
		Description: "Batch worker driven each round",
		Dir:         cfg.Worker.Workdir,
	}})
	status := statuses[0]
	if !status.Available {
		return Result{Name: name, Detail: status.Detail}
	}
	return Result{Name: name, Passed: true, Detail: status.Path}
}

// CheckWorkdir verifies the worker working directory when one is configured.
func CheckWorkdir(cfg *config.Config) Result {
	const name = "Worker directory"

	dir := strings.TrimSpace(cfg.Worker.Workdir)
	if dir == "" {
		return Result{Name: name, Passed: true, Detail: "inherits current directory"}
	}
	return CheckDirectoryReadable(name, dir)
}

// CheckEnvFile verifies the worker dotenv file parses.
func CheckEnvFile(cfg *config.Config) Result {
	const name = "Worker env file"

	path := strings.TrimSpace(cfg.Worker.EnvFile)
	if path == "" {
		return Result{Name: name, Passed: true, Detail: "not configured"}
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", filepath.Base(path), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d variables)", path, len(values))}
}
