// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerLimits_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.MaxPages = 42
	cfg.Policy = Lenient
	require.NoError(t, WriteWorkerLimits(dir, cfg))

	back, err := loadWorkerLimits(filepath.Join(dir, WorkerLimitsName))
	require.NoError(t, err)
	assert.Equal(t, int64(42), back.MaxPages)
	assert.Equal(t, Lenient, back.Policy)
	// Fields left at their defaults round-trip unchanged.
	assert.Equal(t, cfg.MemoryLimitBytes, back.MemoryLimitBytes)
}

func TestWorkerReport_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	report := &WorkerReport{
		ParserVersion: ParserVersion,
		Status:        "failure",
		Failure:       failf(TaxonDecompressionBudget, "obj 4", "decoded stream exceeds budget"),
		Threats:       []Threat{{Kind: "EmbeddedFile", Severity: SeverityCritical, Action: ActionRejected}},
	}
	require.NoError(t, writeWorkerReport(dir, report))

	back, err := readWorkerReport(dir, NewDefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "failure", back.Status)
	require.NotNil(t, back.Failure)
	assert.Equal(t, TaxonDecompressionBudget, back.Failure.Taxon)
	assert.Equal(t, "obj 4", back.Failure.Locator)
	require.Len(t, back.Threats, 1)
	assert.Equal(t, "EmbeddedFile", back.Threats[0].Kind)
}

func TestWorkerReport_SuccessRoundTrip(t *testing.T) {
	dir := t.TempDir()
	report := &WorkerReport{
		ParserVersion: ParserVersion,
		Status:        "success",
		Threats:       []Threat{},
		Document:      validDoc(),
	}
	require.NoError(t, writeWorkerReport(dir, report))

	back, err := readWorkerReport(dir, NewDefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, back.Document)
	require.NoError(t, back.Document.Validate(testLimits()))
	assert.Len(t, back.Document.Pages, 1)
}
