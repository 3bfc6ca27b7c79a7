package gateways

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
)

// sarifLog is the subset of SARIF 2.1.0 needed to count results
type sarifLog struct {
	Runs []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver struct {
		Rules []struct {
			ID            string `json:"id"`
			DefaultConfig struct {
				Level string `json:"level"`
			} `json:"defaultConfiguration"`
		} `json:"rules"`
	} `json:"driver"`
}

type sarifResult struct {
	RuleID string `json:"ruleId"`
	Level  string `json:"level"`
}

// SARIFReader summarizes *.sarif files written by analyzers
type SARIFReader struct{}

// NewSARIFReader creates a SARIF findings reader
func NewSARIFReader() *SARIFReader {
	return &SARIFReader{}
}

// ReadFindings walks dir for *.sarif files. It returns nil when there are none.
func (r *SARIFReader) ReadFindings(dir string) (*entities.FindingsSummary, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".sarif") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s for SARIF logs: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.Strings(files)

	summary := &entities.FindingsSummary{ByLevel: make(map[string]int)}
	rules := make(map[string]bool)
	for _, file := range files {
		if err := r.readFile(file, summary, rules); err != nil {
			return nil, err
		}
	}

	for id := range rules {
		summary.Rules = append(summary.Rules, id)
	}
	sort.Strings(summary.Rules)

	rel := make([]string, len(files))
	for i, f := range files {
		if p, err := filepath.Rel(dir, f); err == nil {
			rel[i] = p
		} else {
			rel[i] = f
		}
	}
	summary.Source = strings.Join(rel, ",")
	return summary, nil
}

func (r *SARIFReader) readFile(path string, summary *entities.FindingsSummary, rules map[string]bool) error {
	//nolint:gosec // G304: path is found under the job's own temp dir
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read SARIF log: %w", err)
	}

	var log sarifLog
	if err := json.Unmarshal(data, &log); err != nil {
		return fmt.Errorf("failed to parse SARIF log %s: %w", path, err)
	}

	for _, run := range log.Runs {
		defaults := make(map[string]string)
		for _, rule := range run.Tool.Driver.Rules {
			defaults[rule.ID] = rule.DefaultConfig.Level
		}
		for _, res := range run.Results {
			level := res.Level
			if level == "" {
				level = defaults[res.RuleID]
			}
			if level == "" {
				level = "warning"
			}
			summary.Total++
			summary.ByLevel[level]++
			if res.RuleID != "" {
				rules[res.RuleID] = true
			}
		}
	}
	return nil
}

var _ gateways.FindingsReader = (*SARIFReader)(nil)
