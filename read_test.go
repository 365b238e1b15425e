// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReader(t *testing.T, data []byte) *Reader {
	t.Helper()
	r, err := NewReader(bytes.NewReader(data), int64(len(data)), 1<<20)
	require.NoError(t, err)
	return r
}

func TestNewReader_EmptyFile(t *testing.T) {
	var b bytes.Reader // size = 0
	_, err := NewReader(&b, 0, 1<<20)
	requireTaxon(t, err, TaxonNotAPDF)
}

func TestCheckHeader(t *testing.T) {
	cases := []struct {
		name  string
		data  string
		taxon Taxon // empty: accepted
		want  string
	}{
		{"v1.4", "%PDF-1.4\nrest", "", "1.4"},
		{"v2.0", "%PDF-2.0\nrest", "", "2.0"},
		{"trailing spaces", "%PDF-1.7   \nrest", "", "1.7"},
		{"future version", "%PDF-3.1\nrest", TaxonUnsupportedVersion, ""},
		{"v2.1", "%PDF-2.1\nrest", TaxonUnsupportedVersion, ""},
		{"no header", "hello world, not a pdf", TaxonNotAPDF, ""},
		{"garbage before header", "\xef\xbb\xbf%PDF-1.4\n", TaxonNotAPDF, ""},
		{"malformed version", "%PDF-x.y\n", TaxonNotAPDF, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			v, err := CheckHeader(strings.NewReader(c.data))
			if c.taxon == "" {
				require.NoError(t, err)
				assert.Equal(t, c.want, v)
				return
			}
			requireTaxon(t, err, c.taxon)
		})
	}
}

func TestValidateEOFMarker(t *testing.T) {
	good := []byte("%PDF-1.4\ncontent\n%%EOF\n")
	assert.NoError(t, ValidateEOFMarker(bytes.NewReader(good), int64(len(good))))

	padded := []byte("%PDF-1.4\ncontent\n%%EOF \r\n\x00")
	assert.NoError(t, ValidateEOFMarker(bytes.NewReader(padded), int64(len(padded))))

	bad := []byte("%PDF-1.4\ncontent without terminator")
	err := ValidateEOFMarker(bytes.NewReader(bad), int64(len(bad)))
	requireTaxon(t, err, TaxonTruncated)
}

type errReaderAt struct{}

func (e errReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("read failure")
}

func TestFindStartXref_ErrorCases(t *testing.T) {
	// ReadAt error
	{
		_, err := FindStartXref(errReaderAt{}, 100)
		assert.Error(t, err)
	}
	// Missing final startxref
	{
		payload := strings.Repeat("A", 150)
		data := []byte("%PDF-1.7\n" + payload + "\n%%EOF")
		_, err := FindStartXref(bytes.NewReader(data), int64(len(data)))
		requireTaxon(t, err, TaxonTruncated)
	}
	// startxref not followed by integer
	{
		padding := strings.Repeat("A", 120)
		data := []byte("%PDF-1.7\n" + padding + "\nstartxref\nnotanumber\n%%EOF")
		_, err := FindStartXref(bytes.NewReader(data), int64(len(data)))
		assert.Error(t, err)
	}
}

func TestFindStartXref_ToleratesTrailingWhitespace(t *testing.T) {
	padding := strings.Repeat("A", 100)
	data := []byte("%PDF-1.7\n" + padding + "\nstartxref \t\r\n1234\n%%EOF")
	off, err := FindStartXref(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), off)
}

func TestReader_TrailerAndPages(t *testing.T) {
	r := newTestReader(t, helloPDF("", ""))

	root := r.Trailer().Key("Root")
	assert.Equal(t, Dict, root.Kind())
	assert.Equal(t, "Catalog", root.Key("Type").Name())
	assert.Equal(t, 1, r.NumPage())
	assert.Equal(t, "1.4", r.Version())

	p := r.Page(1)
	require.False(t, p.V.IsNull())
	mb := p.MediaBox()
	require.Equal(t, Array, mb.Kind())
	rect, err := rectFromValue(mb)
	require.NoError(t, err)
	assert.Equal(t, Rectangle{0, 0, 612, 792}, rect)

	assert.Equal(t, []string{"F1"}, p.Fonts())
	assert.Equal(t, "Helvetica", p.Font("F1").Key("BaseFont").Name())

	assert.True(t, r.Page(2).V.IsNull(), "out-of-range page is null")
}

func TestReader_Encrypted(t *testing.T) {
	var b pdfBuilder
	catalog := b.add("<< /Type /Catalog /Pages 2 0 R >>")
	b.add("<< /Type /Pages /Kids [] /Count 0 >>")
	data := b.bytesTrailer("<< /Size 3 /Root " +
		strconv.Itoa(catalog) + " 0 R /Encrypt << /Filter /Standard >> >>")
	_, err := NewReader(bytes.NewReader(data), int64(len(data)), 1<<20)
	requireTaxon(t, err, TaxonEncrypted)
}

func TestReader_StartxrefOutsideFile(t *testing.T) {
	data := []byte("%PDF-1.4\nstuff\nstartxref\n999999\n%%EOF\n")
	_, err := NewReader(bytes.NewReader(data), int64(len(data)), 1<<20)
	requireTaxon(t, err, TaxonTruncated)
}

func TestValue_Accessors(t *testing.T) {
	r := newTestReader(t, helloPDF("", ""))
	pages := r.Trailer().Key("Root").Key("Pages")

	assert.Equal(t, int64(1), pages.Key("Count").Int64())
	assert.Equal(t, float64(1), pages.Key("Count").Float64())
	assert.Equal(t, 1, pages.Key("Kids").Len())
	assert.True(t, pages.Key("Missing").IsNull())
	assert.Equal(t, "", pages.Key("Count").Name())
	assert.Contains(t, pages.Keys(), "Kids")
}
