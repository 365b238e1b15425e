// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Parent-process side of the isolation harness. The parser runs in a child
// process that reads the input and writes one report into its job directory.
// The child gets no stdin, a fixed PATH as its only environment, and the
// kernel resource limits of applyWorkerLimits; its filesystem and network
// access are not otherwise restricted. Whatever comes back is untrusted: the report is schema-
// checked and every IR invariant is re-validated before the document may
// reach the reconstructor. The harness never retries — an input that crashed
// the parser once is not safer on the second run.

package sanitize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// WorkerArgs is the argument vector prefix that makes the executable run as
// a worker. The cmd/pdfstz binary wires a hidden subcommand to RunWorker.
var WorkerArgs = []string{"worker"}

// stderrCap bounds how much child stderr is retained for diagnostics.
const stderrCap = 64 << 10

// ParseIsolated executes the whitelist parser against inputPath in a child
// process under cfg's resource envelope and returns the re-validated result.
func ParseIsolated(ctx context.Context, workerExe, inputPath string, cfg *Config) (*ParseResult, error) {
	if workerExe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, failf(TaxonIO, "", "locating worker executable: %v", err)
		}
		workerExe = exe
	}

	jobDir, err := os.MkdirTemp("", "stz-job-"+uuid.NewString()+"-")
	if err != nil {
		return nil, failf(TaxonIO, "", "create job dir: %v", err)
	}
	defer os.RemoveAll(jobDir)

	if err := WriteWorkerLimits(jobDir, cfg); err != nil {
		return nil, failf(TaxonIO, jobDir, "write limits: %v", err)
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, WorkerArgs...), "--input", inputPath, "--output", jobDir)
	cmd := exec.CommandContext(runCtx, workerExe, args...)
	cmd.Dir = jobDir
	cmd.Stdin = nil
	// The child inherits no environment beyond a fixed PATH: no proxies,
	// no locale surprises, no credentials.
	cmd.Env = []string{"PATH=/usr/bin:/bin"}
	var stderr limitedBuffer
	stderr.cap = stderrCap
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr
	cmd.WaitDelay = 5 * time.Second

	logger.Debug(fmt.Sprintf("isolation: spawning worker for %s (timeout=%s)", inputPath, timeout), true)
	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		logger.Error(fmt.Sprintf("isolation: worker timed out after %s", timeout))
		return nil, failf(TaxonTimeout, inputPath, "worker exceeded %s wall clock", timeout)
	}
	if ctx.Err() != nil {
		return nil, failf(TaxonCancelled, inputPath, "job cancelled")
	}

	report, rerr := readWorkerReport(jobDir, cfg)
	if rerr != nil {
		if runErr != nil {
			// No usable report and a dead child: probable attack.
			return nil, failf(TaxonChildCrash, inputPath, "worker exited with %v; stderr: %s", exitDesc(runErr), stderr.tail())
		}
		return nil, rerr
	}

	if report.Status != "success" {
		if report.Failure == nil {
			return nil, failf(TaxonChildCrash, inputPath, "worker reported failure without a taxon; stderr: %s", stderr.tail())
		}
		if report.Failure.Taxon == TaxonDisallowedConstruct && len(report.Threats) > 0 {
			return nil, &parseRejection{failure: report.Failure, threats: report.Threats}
		}
		return nil, report.Failure
	}
	if runErr != nil {
		return nil, failf(TaxonChildCrash, inputPath, "worker exited with %v after reporting success; stderr: %s", exitDesc(runErr), stderr.tail())
	}
	if report.Document == nil {
		return nil, failf(TaxonIRInvalid, inputPath, "success report without a document")
	}

	// Defense in depth: the worker is untrusted, so every invariant is
	// checked again on this side of the boundary.
	if err := report.Document.Validate(cfg.IRLimits()); err != nil {
		logger.Error(fmt.Sprintf("isolation: IR re-validation failed: %v", err))
		return nil, ToFailure(err, TaxonIRInvalid)
	}
	threats := report.Threats
	if threats == nil {
		threats = []Threat{}
	}
	return &ParseResult{Doc: report.Document, Threats: threats}, nil
}

func readWorkerReport(jobDir string, cfg *Config) (*WorkerReport, error) {
	path := filepath.Join(jobDir, WorkerReportName)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, failf(TaxonIRInvalid, path, "worker produced no report")
	}
	if fi.Size() > cfg.MaxOutputIRBytes {
		return nil, failf(TaxonIRInvalid, path, "report is %d bytes, cap is %d", fi.Size(), cfg.MaxOutputIRBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failf(TaxonIRInvalid, path, "read report: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var report WorkerReport
	if err := dec.Decode(&report); err != nil {
		return nil, failf(TaxonIRInvalid, path, "report fails schema: %v", err)
	}
	return &report, nil
}

func exitDesc(err error) string {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.String()
	}
	return err.Error()
}

// limitedBuffer retains only the first cap bytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
	cap int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len() < b.cap {
		room := b.cap - b.buf.Len()
		if room > len(p) {
			room = len(p)
		}
		b.buf.Write(p[:room])
	}
	return len(p), nil
}

func (b *limitedBuffer) tail() string {
	s := bytes.TrimSpace(b.buf.Bytes())
	if len(s) == 0 {
		return "<empty>"
	}
	return string(s)
}
