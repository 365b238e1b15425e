// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// pdfBuilder assembles syntactically valid single-revision PDFs for tests:
// objects are numbered in insertion order and the xref offsets are computed
// for real.
type pdfBuilder struct {
	objs []string
}

// add appends an object body and returns its object number.
func (b *pdfBuilder) add(body string) int {
	b.objs = append(b.objs, body)
	return len(b.objs)
}

// addStream appends a stream object with the given dictionary extras.
func (b *pdfBuilder) addStream(dictExtra string, payload []byte) int {
	body := fmt.Sprintf("<< /Length %d %s >>\nstream\n%s\nendstream", len(payload), dictExtra, payload)
	return b.add(body)
}

// bytes serializes the file with rootNum as /Root.
func (b *pdfBuilder) bytes(rootNum int) []byte {
	return b.bytesTrailer(fmt.Sprintf("<< /Size %d /Root %d 0 R >>", len(b.objs)+1, rootNum))
}

func (b *pdfBuilder) bytesTrailer(trailer string) []byte {
	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(b.objs))
	for i, body := range b.objs {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n", len(b.objs)+1)
	out.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n%s\nstartxref\n%d\n%%%%EOF\n", trailer, xref)
	return out.Bytes()
}

// helloPDF builds the E1 document: one page, Helvetica, "Hello" at
// (100, 700), no metadata, no scripts. catalogExtra and pageExtra let tests
// graft extra dictionary entries onto the catalog and page.
func helloPDF(catalogExtra, pageExtra string) []byte {
	var b pdfBuilder
	content := "BT /F1 12 Tf 100 700 Td (Hello) Tj ET"
	catalog := b.add(fmt.Sprintf("<< /Type /Catalog /Pages 2 0 R %s >>", catalogExtra))
	b.add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.add(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R %s >>", pageExtra))
	b.add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	b.addStream("", []byte(content))
	return b.bytes(catalog)
}

func flate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeTempPDF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// newTestConfig returns defaults with per-test audit and fallback
// directories.
func newTestConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.AuditDir = filepath.Join(t.TempDir(), "audit")
	cfg.FallbackOutputDir = filepath.Join(t.TempDir(), "out")
	cfg.SourceReadonlyRequired = false
	return cfg
}

func requireTaxon(t *testing.T, err error, taxon Taxon) *Failure {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s failure, got nil", taxon)
	}
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("expected typed failure, got %T: %v", err, err)
	}
	if f.Taxon != taxon {
		t.Fatalf("expected taxon %s, got %s (%v)", taxon, f.Taxon, f)
	}
	return f
}
