// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_HelloWorld(t *testing.T) {
	data := helloPDF("", "")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)

	res, err := Parse(path, cfg)
	require.NoError(t, err)
	require.Len(t, res.Doc.Pages, 1)
	assert.Empty(t, res.Threats)
	assert.Equal(t, HashBytes(data), res.Doc.SourceSHA256)
	assert.Equal(t, ParserVersion, res.Doc.ParserVersion)

	page := res.Doc.Pages[0]
	assert.Equal(t, Rectangle{0, 0, 612, 792}, page.MediaBox)
	require.Contains(t, page.Fonts, "F1")
	assert.Equal(t, "Helvetica", page.Fonts["F1"].BaseFont)

	var shown []string
	for _, op := range page.Ops {
		if op.Kind == OpShowText {
			shown = append(shown, string(op.Text))
			assert.Equal(t, "F1", op.Font)
			assert.Equal(t, float64(12), op.FontSize)
		}
	}
	assert.Equal(t, []string{"Hello"}, shown)

	kinds := make([]OpKind, 0, len(page.Ops))
	for _, op := range page.Ops {
		kinds = append(kinds, op.Kind)
	}
	assert.Equal(t, []OpKind{OpTextBegin, OpTextMoveRel, OpShowText, OpTextEnd}, kinds)
}

func TestParse_OpenActionAggressive(t *testing.T) {
	data := helloPDF("/OpenAction << /S /JavaScript /JS (app.alert(1)) >>", "")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)
	cfg.Policy = Aggressive

	_, err := Parse(path, cfg)
	f := requireTaxon(t, err, TaxonDisallowedConstruct)
	assert.Contains(t, f.Detail, "OpenAction")

	threats := RejectionThreats(err)
	require.Len(t, threats, 1)
	assert.Equal(t, "OpenAction/JavaScript", threats[0].Kind)
	assert.Equal(t, SeverityCritical, threats[0].Severity)
	assert.Equal(t, ActionRejected, threats[0].Action)
}

func TestParse_OpenActionLenient(t *testing.T) {
	data := helloPDF("/OpenAction << /S /JavaScript /JS (app.alert(1)) >>", "")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)
	cfg.Policy = Lenient

	res, err := Parse(path, cfg)
	require.NoError(t, err)
	require.Len(t, res.Doc.Pages, 1)

	require.Len(t, res.Threats, 1)
	assert.Equal(t, "OpenAction/JavaScript", res.Threats[0].Kind)
	assert.Equal(t, SeverityCritical, res.Threats[0].Severity)
	assert.Equal(t, ActionRemoved, res.Threats[0].Action)

	// The visible content survives the strip.
	found := false
	for _, op := range res.Doc.Pages[0].Ops {
		if op.Kind == OpShowText && string(op.Text) == "Hello" {
			found = true
		}
	}
	assert.True(t, found, "text content should survive lenient sanitization")
}

// imagePDF builds a one-page document whose only content is /Im1 Do, with
// an image XObject of the given geometry and raw payload.
func imagePDF(width, height, bpc int, colorSpace string, payload []byte, filter string) []byte {
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Im1 5 0 R >> >> /Contents 4 0 R >>")
	b.addStream("", []byte("q /Im1 Do Q"))
	extra := fmt.Sprintf("/Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent %d", width, height, colorSpace, bpc)
	if filter != "" {
		extra += " /Filter /" + filter
	}
	b.addStream(extra, payload)
	return b.bytes(catalog)
}

func TestParse_ImageLengthMismatch(t *testing.T) {
	// Declares 1000x1000 8-bit RGB (3,000,000 bytes) but carries 100.
	data := imagePDF(1000, 1000, 8, "DeviceRGB", make([]byte, 100), "")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)

	_, err := Parse(path, cfg)
	f := requireTaxon(t, err, TaxonMalformed)
	assert.Contains(t, f.Detail, "does not match")
}

func TestParse_ImagePixelLimit(t *testing.T) {
	data := imagePDF(10000, 10000, 8, "DeviceRGB", make([]byte, 100), "")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)
	cfg.MaxImagePixels = 1 << 20

	_, err := Parse(path, cfg)
	requireTaxon(t, err, TaxonLimitExceeded)
}

func TestParse_ImageAdmitted(t *testing.T) {
	payload := make([]byte, 2*2*3)
	for i := range payload {
		payload[i] = byte(i * 17)
	}
	data := imagePDF(2, 2, 8, "DeviceRGB", payload, "")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)

	res, err := Parse(path, cfg)
	require.NoError(t, err)
	require.Len(t, res.Doc.Pages, 1)
	img, ok := res.Doc.Pages[0].Images["Im1"]
	require.True(t, ok)
	assert.Equal(t, payload, img.PixelData)
	assert.Equal(t, int64(3), img.Components())
}

func TestParse_ContentUsesUnknownOperatorIsInvalid(t *testing.T) {
	// q 0 0 0 rg Q: rg is a color operator outside the allow-list.
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	b.addStream("", []byte("q 0 0 0 rg Q"))
	data := b.bytes(catalog)
	path := writeTempPDF(t, data)

	cfg := newTestConfig(t)
	cfg.Policy = Aggressive
	_, err := Parse(path, cfg)
	f := requireTaxon(t, err, TaxonDisallowedConstruct)
	assert.Contains(t, f.Detail, `"rg"`)

	cfg.Policy = Lenient
	res, err := Parse(path, cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Doc.Pages, "page with disallowed operator is dropped")
	require.Len(t, res.Threats, 1)
	assert.Equal(t, "RejectedPage", res.Threats[0].Kind)
	assert.Equal(t, SeverityHigh, res.Threats[0].Severity)
}

func TestParse_DecompressionBudget(t *testing.T) {
	// 20 MiB of zeros compress to a few KiB; the budget is 1 MiB.
	big := make([]byte, 20<<20)
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >>")
	b.addStream("/Filter /FlateDecode", flate(t, big))
	data := b.bytes(catalog)
	path := writeTempPDF(t, data)

	cfg := newTestConfig(t)
	cfg.MaxDecodeOutputBytes = 1 << 20
	_, err := Parse(path, cfg)
	requireTaxon(t, err, TaxonDecompressionBudget)
}

func TestParse_Encrypted(t *testing.T) {
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [] /Count 0 >>")
	enc := b.add("<< /Filter /Standard /V 2 >>")
	data := b.bytesTrailer(fmt.Sprintf("<< /Size %d /Root %d 0 R /Encrypt %d 0 R >>", 4, catalog, enc))
	path := writeTempPDF(t, data)

	_, err := Parse(path, newTestConfig(t))
	requireTaxon(t, err, TaxonEncrypted)
}

func TestParse_NotAPDF(t *testing.T) {
	path := writeTempPDF(t, []byte("MZ\x90\x00 definitely not a pdf"))
	_, err := Parse(path, newTestConfig(t))
	requireTaxon(t, err, TaxonNotAPDF)
}

func TestParse_Oversize(t *testing.T) {
	data := helloPDF("", "")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)
	cfg.MaxInputBytes = 16
	_, err := Parse(path, cfg)
	requireTaxon(t, err, TaxonOversize)
}

func TestParse_PageLimit(t *testing.T) {
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>")
	b.add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	b.add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	data := b.bytes(catalog)
	path := writeTempPDF(t, data)

	cfg := newTestConfig(t)
	cfg.MaxPages = 1
	_, err := Parse(path, cfg)
	requireTaxon(t, err, TaxonLimitExceeded)
}

func TestParse_EmbeddedFontLenient(t *testing.T) {
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>")
	b.add("<< /Type /Font /Subtype /TrueType /BaseFont /EvilCorpSans >>")
	b.addStream("", []byte("BT /F1 10 Tf (gone) Tj ET"))
	data := b.bytes(catalog)
	path := writeTempPDF(t, data)

	cfg := newTestConfig(t)
	cfg.Policy = Lenient
	res, err := Parse(path, cfg)
	require.NoError(t, err)
	require.Len(t, res.Doc.Pages, 1)
	assert.Empty(t, res.Doc.Pages[0].Fonts)
	require.Len(t, res.Threats, 1)
	assert.Equal(t, "EmbeddedFont", res.Threats[0].Kind)

	// The show op that used the dropped font is gone with it.
	for _, op := range res.Doc.Pages[0].Ops {
		assert.NotEqual(t, OpShowText, op.Kind)
	}
}

func TestParse_FormXObjectLenient(t *testing.T) {
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /XObject << /Fm1 5 0 R >> >> /Contents 4 0 R >>")
	b.addStream("", []byte("/Fm1 Do"))
	b.addStream("/Type /XObject /Subtype /Form /BBox [0 0 10 10]", []byte("0 0 5 5 re f"))
	data := b.bytes(catalog)
	path := writeTempPDF(t, data)

	cfg := newTestConfig(t)
	cfg.Policy = Lenient
	res, err := Parse(path, cfg)
	require.NoError(t, err)
	require.Len(t, res.Threats, 1)
	assert.Equal(t, "FormXObject", res.Threats[0].Kind)
	assert.Empty(t, res.Doc.Pages[0].Ops, "the Do of a dropped XObject is skipped")
}

func TestParse_AnnotationsLenient(t *testing.T) {
	data := helloPDF("", "/Annots [ << /Subtype /Link /A << /S /URI /URI (http://example.com) >> >> ]")
	path := writeTempPDF(t, data)
	cfg := newTestConfig(t)
	cfg.Policy = Lenient

	res, err := Parse(path, cfg)
	require.NoError(t, err)
	require.Len(t, res.Threats, 1)
	assert.True(t, strings.HasPrefix(res.Threats[0].Kind, "Annotation"), "kind = %s", res.Threats[0].Kind)
}

func TestParse_MissingInput(t *testing.T) {
	path := writeTempPDF(t, []byte("x")) + ".does-not-exist.pdf"
	_, err := Parse(path, newTestConfig(t))
	requireTaxon(t, err, TaxonIO)
}

func TestCanonicalBaseFont(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"Helvetica", "Helvetica", true},
		{"ABCDEF+Helvetica", "Helvetica", true},
		{"Arial", "Helvetica", true},
		{"TimesNewRoman", "Times-Roman", true},
		{"ZapfDingbats", "ZapfDingbats", true},
		{"EvilCorpSans", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := CanonicalBaseFont(c.in)
		assert.Equalf(t, c.ok, ok, "CanonicalBaseFont(%q)", c.in)
		assert.Equalf(t, c.want, got, "CanonicalBaseFont(%q)", c.in)
	}
}

func TestParse_SourceHashMatchesFileOnDisk(t *testing.T) {
	data := helloPDF("", "")
	path := writeTempPDF(t, data)
	res, err := Parse(path, newTestConfig(t))
	require.NoError(t, err)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, HashBytes(onDisk), res.Doc.SourceSHA256)
}
