// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstructToTemp(t *testing.T, doc *Document, cfg *Config) (string, string, int64) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.pdf")
	sum, size, err := Reconstruct(doc, out, cfg)
	require.NoError(t, err)
	return out, sum, size
}

func TestReconstruct_Deterministic(t *testing.T) {
	cfg := newTestConfig(t)
	_, sum1, size1 := reconstructToTemp(t, validDoc(), cfg)
	_, sum2, size2 := reconstructToTemp(t, validDoc(), cfg)
	assert.Equal(t, sum1, sum2, "identical IR must produce byte-identical output")
	assert.Equal(t, size1, size2)
}

func TestReconstruct_EmptyDocument(t *testing.T) {
	cfg := newTestConfig(t)
	doc := validDoc()
	doc.Pages = nil
	_, _, err := Reconstruct(doc, filepath.Join(t.TempDir(), "out.pdf"), cfg)
	requireTaxon(t, err, TaxonEmptyDocument)
}

func TestReconstruct_OutputBudget(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.MaxOutputBytes = 64
	out := filepath.Join(t.TempDir(), "out.pdf")
	_, _, err := Reconstruct(validDoc(), out, cfg)
	requireTaxon(t, err, TaxonOutputExceedsBudget)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "failed reconstruction must not leave output")
}

func TestReconstruct_NoPartialFileOnFailure(t *testing.T) {
	cfg := newTestConfig(t)
	doc := validDoc()
	doc.Pages[0].Ops = append(doc.Pages[0].Ops, Op{Kind: OpKind("bogus")})
	out := filepath.Join(t.TempDir(), "out.pdf")
	_, _, err := Reconstruct(doc, out, cfg)
	requireTaxon(t, err, TaxonInvariantViolation)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

// TestReconstruct_RoundTrip feeds the reconstructor's own output back
// through the whitelist parser: the emitted file must parse cleanly and
// carry the same visible content.
func TestReconstruct_RoundTrip(t *testing.T) {
	cfg := newTestConfig(t)
	src := helloPDF("", "")
	path := writeTempPDF(t, src)
	res, err := Parse(path, cfg)
	require.NoError(t, err)

	out, sum, size := reconstructToTemp(t, res.Doc, cfg)
	onDisk, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(onDisk), sum)
	assert.Equal(t, int64(len(onDisk)), size)

	res2, err := Parse(out, cfg)
	require.NoError(t, err, "reconstructed output must parse under the same whitelist")
	require.Len(t, res2.Doc.Pages, 1)
	assert.Empty(t, res2.Threats)

	var shown []string
	for _, op := range res2.Doc.Pages[0].Ops {
		if op.Kind == OpShowText {
			shown = append(shown, string(op.Text))
		}
	}
	assert.Equal(t, []string{"Hello"}, shown)
}

func TestReconstruct_RoundTripWithImage(t *testing.T) {
	cfg := newTestConfig(t)
	payload := []byte{0x10, 0x20, 0x30, 0x40}
	src := imagePDF(2, 2, 8, "DeviceGray", payload, "")
	res, err := Parse(writeTempPDF(t, src), cfg)
	require.NoError(t, err)

	out, _, _ := reconstructToTemp(t, res.Doc, cfg)
	res2, err := Parse(out, cfg)
	require.NoError(t, err)
	require.Len(t, res2.Doc.Pages[0].Images, 1)
	img := res2.Doc.Pages[0].Images["Im0"]
	assert.Equal(t, payload, img.PixelData, "pixel data must survive re-encoding")
}

// TestReconstruct_NoPassthrough is the P1 property: hostile markers present
// in the input never appear in the output byte stream.
func TestReconstruct_NoPassthrough(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Policy = Lenient

	src := helloPDF(
		"/OpenAction << /S /JavaScript /JS (stealMyBytes\\(\\)) >>",
		"/Annots [ << /Subtype /Link /A << /S /URI /URI (http://exfil.example) >> >> ]",
	)
	path := writeTempPDF(t, src)
	res, err := Parse(path, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.Threats)

	out, _, _ := reconstructToTemp(t, res.Doc, cfg)
	outBytes, err := os.ReadFile(out)
	require.NoError(t, err)

	for _, marker := range [][]byte{
		[]byte("/OpenAction"),
		[]byte("/JavaScript"),
		[]byte("/JS"),
		[]byte("stealMyBytes"),
		[]byte("/Annots"),
		[]byte("exfil.example"),
		[]byte("/Encrypt"),
		[]byte("/Info"),
	} {
		assert.Falsef(t, bytes.Contains(outBytes, marker), "output contains %q", marker)
	}
	// The admitted text survives inside the compressed content stream.
	res2, err := Parse(out, cfg)
	require.NoError(t, err)
	require.Len(t, res2.Doc.Pages, 1)
}

func TestReconstruct_NoTimestampsOrIDs(t *testing.T) {
	cfg := newTestConfig(t)
	out, _, _ := reconstructToTemp(t, validDoc(), cfg)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("/ID")), "output must not carry a file ID")
	assert.False(t, bytes.Contains(data, []byte("/CreationDate")))
	assert.False(t, bytes.Contains(data, []byte("/Producer")))
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-1.4\n")))
	assert.True(t, bytes.HasSuffix(data, []byte("%%EOF\n")))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", formatNumber(0))
	assert.Equal(t, "-7", formatNumber(-7))
	assert.Equal(t, "612", formatNumber(612))
	assert.Equal(t, "0.5", formatNumber(0.5))
	assert.Equal(t, "-250.25", formatNumber(-250.25))
}

func TestWriteString_Escaping(t *testing.T) {
	var b bytes.Buffer
	writeString(&b, []byte("a(b)c\\d\x01\xff"))
	assert.Equal(t, `(a\(b\)c\\d\001\377)`, b.String())
}
