package gateways

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileName is the file under the job temp dir exposed to steps as $GITHUB_ENV
const EnvFileName = "github_env"

func envFilePath(tempDir string) string {
	if tempDir == "" {
		return ""
	}
	return filepath.Join(tempDir, EnvFileName)
}

// resetEnvFile truncates the export file so each step reports only its own exports
func resetEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, nil, 0600); err != nil {
		return fmt.Errorf("failed to prepare %s: %w", EnvFileName, err)
	}
	return nil
}

// readEnvFile parses NAME=value lines and NAME<<DELIM heredocs
func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	//nolint:gosec // G304: path is inside the job temp dir
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", EnvFileName, err)
	}
	return parseEnvFile(data)
}

func parseEnvFile(data []byte) (map[string]string, error) {
	exports := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if name, delim, ok := strings.Cut(line, "<<"); ok && !strings.Contains(name, "=") {
			var value []string
			closed := false
			for scanner.Scan() {
				l := strings.TrimSuffix(scanner.Text(), "\r")
				if l == delim {
					closed = true
					break
				}
				value = append(value, l)
			}
			if !closed {
				return nil, fmt.Errorf("%s: unterminated value for %s, expected %q", EnvFileName, name, delim)
			}
			if err := addExport(exports, name, strings.Join(value, "\n")); err != nil {
				return nil, err
			}
			continue
		}

		name, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s: invalid line %q", EnvFileName, line)
		}
		if err := addExport(exports, name, value); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", EnvFileName, err)
	}
	return exports, nil
}

func addExport(exports map[string]string, name, value string) error {
	if name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%s: invalid variable name %q", EnvFileName, name)
	}
	exports[name] = value
	return nil
}
