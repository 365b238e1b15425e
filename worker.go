// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Child-process side of the isolation harness. The worker parses exactly one
// input, writes one report file into its job directory, and exits. All
// diagnostics go to stderr; the parent captures them for the audit trail.

package sanitize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// WorkerReportName is the single file the worker is allowed to produce.
const WorkerReportName = "report.json"

// WorkerLimitsName is the limits file the parent places into the job
// directory before spawning the worker.
const WorkerLimitsName = "limits.json"

// A WorkerReport is the complete structured output of one worker run.
type WorkerReport struct {
	ParserVersion string    `json:"parser_version"`
	Status        string    `json:"status"` // "success" or "failure"
	Failure       *Failure  `json:"failure,omitempty"`
	Threats       []Threat  `json:"threats"`
	Document      *Document `json:"document,omitempty"`
}

// RunWorker is the worker process body: apply OS resource limits, parse the
// input, write the report. The returned value is the process exit code;
// a non-zero exit with a missing or failure-free report is what the parent
// classifies as CHILD_CRASH.
func RunWorker(inputPath, outputDir string) int {
	cfg, err := loadWorkerLimits(filepath.Join(outputDir, WorkerLimitsName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		return 2
	}

	// Limits are applied before the first input byte is read. They are
	// enforced by the kernel from here on; the parser cannot lift them.
	if err := applyWorkerLimits(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "worker: applying resource limits: %v\n", err)
		return 2
	}

	report := &WorkerReport{ParserVersion: ParserVersion, Threats: []Threat{}}
	res, err := Parse(inputPath, cfg)
	if err != nil {
		report.Status = "failure"
		report.Failure = ToFailure(err, TaxonMalformed)
		if ts := RejectionThreats(err); ts != nil {
			report.Threats = ts
		}
	} else {
		report.Status = "success"
		report.Document = res.Doc
		report.Threats = res.Threats
	}

	if werr := writeWorkerReport(outputDir, report); werr != nil {
		fmt.Fprintf(os.Stderr, "worker: writing report: %v\n", werr)
		return 2
	}
	if report.Status != "success" {
		fmt.Fprintf(os.Stderr, "worker: %v\n", report.Failure)
		return 1
	}
	logger.Debug("worker: parse complete", true)
	return 0
}

func loadWorkerLimits(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits: %w", err)
	}
	cfg := NewDefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode limits: %w", err)
	}
	return cfg, nil
}

func writeWorkerReport(outputDir string, report *WorkerReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return writeFileSync(filepath.Join(outputDir, WorkerReportName), data)
}

// WriteWorkerLimits serializes the whole configuration, limits included, into
// the job directory for the worker to pick up.
func WriteWorkerLimits(outputDir string, cfg *Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeFileSync(filepath.Join(outputDir, WorkerLimitsName), data)
}
