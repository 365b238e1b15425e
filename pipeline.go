// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// The pipeline controller: the single orchestrator that accepts jobs,
// enforces preconditions, runs the isolated parser, hands the re-validated
// IR to the reconstructor, and finalizes the audit record. One job is in
// flight at a time; the audit record for job N is durable before job N+1
// begins.

package sanitize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// A SourceAttestation is the external collaborator's statement that the
// source medium was mounted read-only. The core does not verify the claim;
// it refuses to proceed without it when policy requires one.
type SourceAttestation struct {
	ReadOnly  bool      `json:"read_only"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// A JobRequest describes one file to sanitize.
type JobRequest struct {
	InputPath  string
	OutputPath string // empty: derive <stem>_sanitized.pdf next to the input

	Operator       string
	WorkstationID  string
	Classification string

	Attestation *SourceAttestation
}

// A JobResult is the synchronous outcome; the audit event carries the full
// detail.
type JobResult struct {
	Status        Status
	Taxon         Taxon
	Locator       string
	FailureReason string
	EventID       string
	OutputPath    string
	Threats       []Threat
	ProcessingMS  int64
}

// A Parser produces the IR for one input. The production implementation is
// the isolation harness; the in-process one exists for trusted inputs and
// tests.
type Parser interface {
	Parse(ctx context.Context, inputPath string, cfg *Config) (*ParseResult, error)
}

// IsolatedParser runs the parser in a confined child process (§ isolation
// harness). WorkerExe empty means re-exec the current binary.
type IsolatedParser struct {
	WorkerExe string
}

func (p *IsolatedParser) Parse(ctx context.Context, inputPath string, cfg *Config) (*ParseResult, error) {
	return ParseIsolated(ctx, p.WorkerExe, inputPath, cfg)
}

// InProcessParser calls the whitelist parser directly, without an isolation
// boundary.
type InProcessParser struct{}

func (InProcessParser) Parse(ctx context.Context, inputPath string, cfg *Config) (*ParseResult, error) {
	return Parse(inputPath, cfg)
}

// A Controller owns the job pipeline for one audit directory.
type Controller struct {
	cfg    *Config
	audit  *AuditWriter
	parser Parser

	slot      *semaphore.Weighted
	aborted   atomic.Bool
	abortOnce sync.Once
	processed atomic.Int64
}

// NewController validates the configuration and builds a controller around
// the given audit writer and parser.
func NewController(cfg *Config, audit *AuditWriter, parser Parser) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("controller config: %w", err)
	}
	if parser == nil {
		parser = &IsolatedParser{}
	}
	logger.Debug(fmt.Sprintf("Controller initialized: policy=%s audit_dir=%s", cfg.Policy, cfg.AuditDir), true)
	return &Controller{
		cfg:    cfg,
		audit:  audit,
		parser: parser,
		slot:   semaphore.NewWeighted(1),
	}, nil
}

// Processed reports how many jobs this controller has completed.
func (c *Controller) Processed() int64 {
	return c.processed.Load()
}

// Abort marks the controller compromised: one final COMPROMISE_ABORT event
// is written and every subsequent submission is refused. The watchdog that
// detects policy subversion calls this.
func (c *Controller) Abort(reason string) {
	c.abortOnce.Do(func() {
		c.aborted.Store(true)
		logger.Error("controller aborted: " + reason)
		now := time.Now()
		ev := &AuditEvent{
			EventID:       c.audit.NewEventID(now),
			UTCTimestamp:  Timestamp(now),
			Policy:        string(c.cfg.Policy),
			Status:        StatusCompromiseAbort,
			FailureReason: reason,
		}
		if err := c.audit.Append(ev); err != nil {
			logger.Error(fmt.Sprintf("abort event append failed: %v", err))
		}
	})
}

// Aborted reports whether the controller refuses further jobs.
func (c *Controller) Aborted() bool {
	return c.aborted.Load()
}

// WatchAbortFile watches path and calls Abort when the file appears or
// changes. The watch stops when ctx is done; the returned error covers
// watcher setup only.
func (c *Controller) WatchAbortFile(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("abort watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("abort watcher on %s: %w", dir, err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name == path && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					c.Abort("watchdog abort signal at " + path)
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Submit runs one job to completion. It blocks while another job is in
// flight; waiters are served in arrival order.
func (c *Controller) Submit(ctx context.Context, req JobRequest) JobResult {
	if c.aborted.Load() {
		return JobResult{Status: StatusCompromiseAbort, Taxon: TaxonCompromiseAbort, FailureReason: "controller is aborted"}
	}
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return JobResult{Status: StatusFailed, Taxon: TaxonCancelled, FailureReason: err.Error()}
	}
	defer c.slot.Release(1)
	if c.aborted.Load() {
		return JobResult{Status: StatusCompromiseAbort, Taxon: TaxonCompromiseAbort, FailureReason: "controller is aborted"}
	}

	start := time.Now()
	ev := &AuditEvent{
		EventID:           c.audit.NewEventID(start),
		UTCTimestamp:      Timestamp(start),
		WorkstationID:     req.WorkstationID,
		Operator:          req.Operator,
		ClassificationTag: req.Classification,
		Policy:            string(c.cfg.Policy),
		Document:          DocumentInfo{OriginalName: filepath.Base(req.InputPath)},
	}
	logger.Debug(fmt.Sprintf("job %s: %s", ev.EventID, req.InputPath), true)

	res := c.runJob(ctx, req, ev)

	ev.Status = res.Status
	ev.FailureReason = res.FailureReason
	ev.ThreatsRemoved = res.Threats
	ev.Document.ProcessingMS = time.Since(start).Milliseconds()
	res.ProcessingMS = ev.Document.ProcessingMS
	res.EventID = ev.EventID

	if err := c.audit.Append(ev); err != nil {
		logger.Error(fmt.Sprintf("job %s: audit append failed: %v", ev.EventID, err))
		// A job without a durable audit record did not succeed, whatever
		// the pipeline produced.
		f := ToFailure(err, TaxonAuditWriteFailed)
		return JobResult{
			Status: StatusFailed, Taxon: f.Taxon, FailureReason: f.Error(),
			EventID: ev.EventID, Threats: res.Threats, ProcessingMS: res.ProcessingMS,
		}
	}
	c.processed.Add(1)
	return res
}

// runJob is the per-job pipeline body; ev accumulates document identity as
// stages complete.
func (c *Controller) runJob(ctx context.Context, req JobRequest, ev *AuditEvent) JobResult {
	// 1. Precondition gate.
	if f := c.preconditions(req, ev); f != nil {
		return failedResult(f)
	}

	// 2. Output-path planning.
	outPath, f := c.planOutputPath(req)
	if f != nil {
		return failedResult(f)
	}

	// 3–4. Parse under isolation; the harness re-validates the IR.
	res, err := c.parser.Parse(ctx, req.InputPath, c.cfg)
	if err != nil {
		r := failedResult(ToFailure(err, TaxonChildCrash))
		r.Threats = RejectionThreats(err)
		return r
	}

	// 5. Reconstruct.
	sum, size, err := Reconstruct(res.Doc, outPath, c.cfg)
	zeroDocument(res.Doc)
	if err != nil {
		r := failedResult(ToFailure(err, TaxonIO))
		r.Threats = res.Threats
		return r
	}

	ev.Document.SanitizedName = filepath.Base(outPath)
	ev.Document.SanitizedSHA256 = sum
	ev.Document.SanitizedBytes = size

	return JobResult{
		Status:     StatusSuccess,
		OutputPath: outPath,
		Threats:    res.Threats,
	}
}

func (c *Controller) preconditions(req JobRequest, ev *AuditEvent) *Failure {
	if c.cfg.SourceReadonlyRequired {
		if req.Attestation == nil || !req.Attestation.ReadOnly {
			return failf(TaxonSourceNotReadonly, req.InputPath, "source medium is not attested read-only")
		}
	}

	if !strings.EqualFold(filepath.Ext(req.InputPath), ".pdf") {
		return failf(TaxonNotAPDF, req.InputPath, "input does not carry a .pdf extension")
	}
	for _, part := range strings.Split(filepath.ToSlash(req.InputPath), "/") {
		if part == ".." {
			return failf(TaxonIO, req.InputPath, "path traversal component in input path")
		}
	}

	fi, err := os.Lstat(req.InputPath)
	if err != nil {
		return failf(TaxonIO, req.InputPath, "stat input: %v", err)
	}
	if fi.Mode()&os.ModeSymlink != 0 {
		return failf(TaxonIO, req.InputPath, "input is a symbolic link")
	}
	if c.cfg.InputRoot != "" {
		abs, err := filepath.Abs(req.InputPath)
		if err != nil {
			return failf(TaxonIO, req.InputPath, "resolve input path: %v", err)
		}
		root, err := filepath.Abs(c.cfg.InputRoot)
		if err != nil {
			return failf(TaxonIO, c.cfg.InputRoot, "resolve input root: %v", err)
		}
		if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return failf(TaxonIO, req.InputPath, "input escapes the declared input root")
		}
	}
	if fi.Size() > c.cfg.MaxInputBytes {
		return failf(TaxonOversize, req.InputPath, "input is %d bytes, cap is %d", fi.Size(), c.cfg.MaxInputBytes)
	}

	f, err := os.Open(req.InputPath)
	if err != nil {
		return failf(TaxonIO, req.InputPath, "open input: %v", err)
	}
	defer f.Close()
	magic := make([]byte, 5)
	if _, err := f.Read(magic); err != nil || !bytes.Equal(magic, []byte("%PDF-")) {
		return failf(TaxonNotAPDF, req.InputPath, "missing %%PDF- magic bytes")
	}

	sum, size, err := HashFile(req.InputPath)
	if err != nil {
		return failf(TaxonIO, req.InputPath, "hash input: %v", err)
	}
	ev.Document.OriginalSHA256 = sum
	ev.Document.OriginalBytes = size
	return nil
}

// planOutputPath prefers a sibling of the input named <stem>_sanitized.pdf
// and falls back to the configured output root when the input's directory
// is not writable.
func (c *Controller) planOutputPath(req JobRequest) (string, *Failure) {
	if req.OutputPath != "" {
		return req.OutputPath, nil
	}
	stem := strings.TrimSuffix(filepath.Base(req.InputPath), filepath.Ext(req.InputPath))
	name := stem + "_sanitized.pdf"

	dir := filepath.Dir(req.InputPath)
	if dirWritable(dir) {
		return filepath.Join(dir, name), nil
	}
	if c.cfg.FallbackOutputDir == "" {
		return "", failf(TaxonIO, dir, "input directory not writable and no fallback output dir configured")
	}
	if err := os.MkdirAll(c.cfg.FallbackOutputDir, 0o750); err != nil {
		return "", failf(TaxonIO, c.cfg.FallbackOutputDir, "create fallback output dir: %v", err)
	}
	logger.Debug(fmt.Sprintf("output falls back to %s", c.cfg.FallbackOutputDir), true)
	return filepath.Join(c.cfg.FallbackOutputDir, name), nil
}

func dirWritable(dir string) bool {
	probe, err := os.CreateTemp(dir, ".stz-probe-")
	if err != nil {
		return false
	}
	probe.Close()
	os.Remove(probe.Name())
	return true
}

// zeroDocument overwrites every buffer that held document content before
// the job's memory is returned to the allocator.
func zeroDocument(doc *Document) {
	if doc == nil {
		return
	}
	for pi := range doc.Pages {
		p := &doc.Pages[pi]
		for name, img := range p.Images {
			for i := range img.PixelData {
				img.PixelData[i] = 0
			}
			p.Images[name] = img
		}
		for oi := range p.Ops {
			for i := range p.Ops[oi].Text {
				p.Ops[oi].Text[i] = 0
			}
			for ii := range p.Ops[oi].Items {
				for i := range p.Ops[oi].Items[ii].Text {
					p.Ops[oi].Items[ii].Text[i] = 0
				}
			}
		}
	}
}

// failedResult maps a failure taxon to its terminal job status.
func failedResult(f *Failure) JobResult {
	status := StatusFailed
	switch f.Taxon {
	case TaxonNotAPDF, TaxonTruncated, TaxonUnsupportedVersion, TaxonEncrypted, TaxonOversize, TaxonSourceNotReadonly:
		status = StatusRejected
	case TaxonTimeout:
		status = StatusTimeout
	case TaxonCompromiseAbort:
		status = StatusCompromiseAbort
	}
	return JobResult{Status: status, Taxon: f.Taxon, Locator: f.Locator, FailureReason: f.Error()}
}

// A Queue is a strict-FIFO list of pending jobs in front of a controller.
// An entry is removed only once its processing finished, successfully or
// not.
type Queue struct {
	mu    sync.Mutex
	items []JobRequest
	ctrl  *Controller
}

// NewQueue builds a queue feeding ctrl.
func NewQueue(ctrl *Controller) *Queue {
	return &Queue{ctrl: ctrl}
}

// Add appends a request to the queue.
func (q *Queue) Add(req JobRequest) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()
	logger.Debug(fmt.Sprintf("queued: %s", req.InputPath), true)
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ProcessNext runs the head-of-line job. ok is false when the queue was
// empty.
func (q *Queue) ProcessNext(ctx context.Context) (JobResult, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return JobResult{}, false
	}
	req := q.items[0]
	q.mu.Unlock()

	res := q.ctrl.Submit(ctx, req)

	q.mu.Lock()
	if len(q.items) > 0 {
		q.items = q.items[1:]
	}
	q.mu.Unlock()
	return res, true
}
