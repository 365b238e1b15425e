// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Package sanitize implements the core engine of a defense-grade PDF
// sanitizer: a whitelist parser that reads an untrusted PDF into a validated
// intermediate representation, an isolation harness that confines the parser
// to a resource-limited child process, a reconstructor that emits a byte-new
// PDF from the IR, and a pipeline controller with a tamper-evident audit
// trail.
//
// A PDF file is a data structure built from values, each of which has one of
// the following kinds:
//
//	Null, for the null object.
//	Integer, for an integer.
//	Real, for a floating-point number.
//	Bool, for a boolean value.
//	Name, for a name constant (as in /Helvetica).
//	String, for a string constant.
//	Dict, for a dictionary of name-value pairs.
//	Array, for an array of values.
//	Stream, for an opaque data stream and associated header dictionary.
//
// The accessors on Value—Int64, Float64, Bool, Name, and so on—return a view
// of the data as the given type. When there is no appropriate view, the
// accessor returns a zero result. The parser in parse.go traverses this graph
// and admits only whitelisted constructs into the IR; everything reached
// through any other path is discarded.
package sanitize

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// A Reader is a single PDF file open for reading.
type Reader struct {
	f            io.ReaderAt
	end          int64
	xref         []xref
	trailer      dict
	trailerptr   objptr
	version      string
	decodeBudget int64
}

type xref struct {
	ptr      objptr
	inStream bool
	stream   objptr
	offset   int64
}

// Open opens the PDF file at path for reading.
func Open(file string, maxDecodeBytes int64) (*os.File, *Reader, error) {
	logger.Debug("Open file", true)
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, failf(TaxonIO, file, "open: %v", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, failf(TaxonIO, file, "stat: %v", err)
	}
	logger.Debug(fmt.Sprintf("document: file:%s -- opened (size=%d)", file, fi.Size()), true)
	reader, err := NewReader(f, fi.Size(), maxDecodeBytes)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, reader, nil
}

// NewReader opens a file for reading, using the data in f with the given
// total size. maxDecodeBytes bounds the output of every stream decode made
// through the returned Reader.
func NewReader(f io.ReaderAt, size int64, maxDecodeBytes int64) (*Reader, error) {
	logger.Debug("Checking Header", true)
	version, err := CheckHeader(f)
	if err != nil {
		return nil, err
	}

	logger.Debug("Checking End of file Marker", true)
	if err := ValidateEOFMarker(f, size); err != nil {
		return nil, err
	}

	logger.Debug("Checking Startxref", true)
	startxref, err := FindStartXref(f, size)
	if err != nil {
		return nil, err
	}
	if startxref < 0 || startxref >= size {
		logger.Error(fmt.Sprintf("startxref offset %d outside file", startxref))
		return nil, failf(TaxonTruncated, "", "startxref offset %d outside file", startxref)
	}

	logger.Debug("Checking xref table + trailer", true)
	r := &Reader{f: f, end: size, version: version, decodeBudget: maxDecodeBytes}
	var xrefs []xref
	var trailerptr objptr
	var trailer dict
	err = withRecover(func() error {
		b := newBuffer(io.NewSectionReader(r.f, startxref, r.end-startxref), startxref)
		var err error
		xrefs, trailerptr, trailer, err = readXref(r, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.xref = xrefs
	r.trailer = trailer
	r.trailerptr = trailerptr

	if _, ok := trailer[name("Encrypt")]; ok {
		logger.Error("document requires a password")
		return nil, failf(TaxonEncrypted, "", "document is encrypted")
	}
	return r, nil
}

// withRecover converts the buffer/resolve panic idiom into an error at the
// package boundary.
func withRecover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(*Failure); ok {
				err = f
				return
			}
			err = failf(TaxonMalformed, "", "%v", r)
		}
	}()
	return fn()
}

// Version returns the header version, e.g. "1.7".
func (r *Reader) Version() string {
	return r.version
}

// CheckHeader validates the PDF header at the beginning of the file.
// It ensures the file starts with "%PDF-x.y" and the version is within
// 1.0–1.7 or 2.0, returning the version string.
func CheckHeader(f io.ReaderAt) (string, error) {
	buf := make([]byte, 16)
	n, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		logger.Error(fmt.Sprintf("Failed to read initial bytes for header check: %v", err))
		return "", failf(TaxonIO, "", "read header: %v", err)
	}
	if n == 0 {
		logger.Error("not a PDF file: empty")
		return "", failf(TaxonNotAPDF, "", "not a PDF file: empty")
	}
	buf = buf[:n]
	if !bytes.HasPrefix(buf, []byte("%PDF-")) {
		logger.Error("not a PDF file: missing %PDF- header")
		return "", failf(TaxonNotAPDF, "", "not a PDF file: missing %%PDF- header")
	}

	// Take the first line (up to CR or LF). If no EOL yet, use what we have.
	line := buf
	if i := bytes.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimRight(line, " \t\x00")

	var major, minor int
	if _, err := fmt.Sscanf(string(line), "%%PDF-%d.%d", &major, &minor); err != nil {
		logger.Error("not a PDF file: malformed version")
		return "", failf(TaxonNotAPDF, "", "not a PDF file: malformed version")
	}

	// Allow 1.0–1.7 and 2.0
	if !((major == 1 && minor >= 0 && minor <= 7) || (major == 2 && minor == 0)) {
		logger.Error(fmt.Sprintf("unsupported PDF version %d.%d", major, minor))
		return "", failf(TaxonUnsupportedVersion, "", "unsupported PDF version %d.%d", major, minor)
	}
	logger.Debug(fmt.Sprintf("header: PDF-%d.%d", major, minor), true)
	return fmt.Sprintf("%d.%d", major, minor), nil
}

// ValidateEOFMarker checks the last chunk of the file for the "%%EOF" marker.
// Ensures the PDF file is properly terminated as per the specification.
func ValidateEOFMarker(f io.ReaderAt, size int64) error {
	logger.Debug("checking for EOF")
	const endChunk = 100
	n := int64(endChunk)
	if n > size {
		n = size
	}
	buf := make([]byte, n)
	f.ReadAt(buf, size-n)
	buf = bytes.TrimRight(buf, "\r\n\t\x00 ")
	if !bytes.HasSuffix(buf, []byte("%%EOF")) {
		logger.Error("not a PDF file: missing %%%%EOF")
		return failf(TaxonTruncated, "", "missing %%%%EOF marker")
	}
	return nil
}

// FindStartXref locates and parses the "startxref" pointer near the end of
// the file. Returns the byte offset where the cross-reference table or
// stream begins.
func FindStartXref(f io.ReaderAt, size int64) (int64, error) {
	const endChunk = 256
	n := int64(endChunk)
	if n > size {
		n = size
	}
	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, size-n); err != nil && err != io.EOF {
		return 0, failf(TaxonIO, "", "read trailer: %v", err)
	}
	i := findLastLine(buf, "startxref")
	if i < 0 {
		logger.Error("malformed PDF file: missing final startxref")
		return 0, failf(TaxonTruncated, "", "missing final startxref")
	}
	pos := size - n + int64(i)

	var startxref int64
	err := withRecover(func() error {
		b := newBuffer(io.NewSectionReader(f, pos, size-pos), pos)
		tok := b.readToken()
		if tok != keyword("startxref") {
			logger.Error(fmt.Sprintf("malformed PDF file: missing startxref : %v", tok))
			return failf(TaxonTruncated, "", "missing startxref keyword")
		}
		off, ok := b.readToken().(int64)
		if !ok {
			logger.Error("malformed PDF file: startxref not followed by integer")
			return failf(TaxonMalformed, "", "startxref not followed by integer")
		}
		startxref = off
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Debug(fmt.Sprintf("xref: FindStartXref -- startxref=%d", startxref), true)
	return startxref, nil
}

// Trailer returns the file's Trailer value.
func (r *Reader) Trailer() Value {
	return Value{r, r.trailerptr, r.trailer}
}

func readXref(r *Reader, b *buffer) ([]xref, objptr, dict, error) {
	tok := b.readToken()
	if tok == keyword("xref") {
		logger.Debug("Found Xref Table", true)
		return readXrefTable(r, b)
	}
	if _, ok := tok.(int64); ok {
		b.unreadToken(tok)
		logger.Debug("Found Xref Stream", true)
		return readXrefStream(r, b)
	}
	logger.Error(fmt.Sprintf("malformed PDF: cross-reference table nor stream found: %v", tok))
	return nil, objptr{}, nil, failf(TaxonMalformed, "", "no cross-reference table or stream")
}

const maxXrefSections = 64

func readXrefStream(r *Reader, b *buffer) ([]xref, objptr, dict, error) {
	logger.Debug("processing Xref Stream")
	strmptr, strm, err := parseXrefStreamObject(b)
	if err != nil {
		return nil, objptr{}, nil, err
	}
	size, err := xrefSize(strm)
	if err != nil {
		return nil, objptr{}, nil, err
	}
	table := make([]xref, size)
	table, err = readXrefStreamData(r, strm, table, size)
	if err != nil {
		return nil, objptr{}, nil, failf(TaxonMalformed, "", "xref stream: %v", err)
	}
	table, err = mergePrevXrefStreams(r, strm, table, size)
	if err != nil {
		return nil, objptr{}, nil, err
	}
	return table, strmptr, strm.hdr, nil
}

// parseXrefStreamObject reads one object from buffer and returns its objptr
// and stream, ensuring it is an /XRef stream.
func parseXrefStreamObject(b *buffer) (objptr, stream, error) {
	logger.Debug(fmt.Sprintf("reading xref stream at offset %v", b.readOffset()))
	obj1 := b.readObject()
	od, ok := obj1.(objdef)
	if !ok {
		logger.Error("malformed PDF: objdef not found at xref stream offset")
		return objptr{}, stream{}, failf(TaxonMalformed, "", "xref stream is not an object definition")
	}
	strm, ok := od.obj.(stream)
	if !ok {
		logger.Error("malformed PDF: cross-reference stream not found")
		return objptr{}, stream{}, failf(TaxonMalformed, "", "cross-reference stream not found")
	}
	if strm.hdr["Type"] != name("XRef") {
		logger.Error("malformed PDF: xref stream does not have type XRef")
		return objptr{}, stream{}, failf(TaxonMalformed, "", "xref stream does not have type XRef")
	}
	strm.ptr = od.ptr
	return od.ptr, strm, nil
}

// xrefSize returns the /Size from an xref stream header.
func xrefSize(strm stream) (int64, error) {
	size, ok := strm.hdr["Size"].(int64)
	if !ok {
		logger.Error("malformed PDF: xref stream missing Size")
		return 0, failf(TaxonMalformed, "", "xref stream missing /Size")
	}
	if size < 0 || size > 1<<24 {
		logger.Error(fmt.Sprintf("malformed PDF: implausible xref size %d", size))
		return 0, failf(TaxonMalformed, "", "implausible xref /Size %d", size)
	}
	logger.Debug(fmt.Sprintf("xref stream size: %d", size))
	return size, nil
}

// mergePrevXrefStreams follows the /Prev chain, validating and merging each
// older stream.
func mergePrevXrefStreams(r *Reader, cur stream, table []xref, maxSize int64) ([]xref, error) {
	sections := 0
	for prevoff := cur.hdr["Prev"]; prevoff != nil; {
		if sections++; sections > maxXrefSections {
			return nil, failf(TaxonMalformed, "", "xref Prev chain too long")
		}
		off, ok := prevoff.(int64)
		if !ok {
			logger.Error("malformed PDF: xref Prev is not integer")
			return nil, failf(TaxonMalformed, "", "xref /Prev is not an integer")
		}
		logger.Debug(fmt.Sprintf("found Prev stream with offset %d", off), true)
		if off < 0 || off >= r.end {
			return nil, failf(TaxonMalformed, "", "xref /Prev offset outside file")
		}
		b := newBuffer(io.NewSectionReader(r.f, off, r.end-off), off)
		_, prevStrm, err := parseXrefStreamObject(b)
		if err != nil {
			return nil, err
		}
		prevoff = prevStrm.hdr["Prev"]
		psize, ok := prevStrm.hdr["Size"].(int64)
		if !ok || psize > maxSize {
			logger.Error("malformed PDF: xref prev stream larger than last stream")
			return nil, failf(TaxonMalformed, "", "xref prev stream size invalid")
		}
		table, err = readXrefStreamData(r, prevStrm, table, psize)
		if err != nil {
			logger.Error(fmt.Sprintf("malformed PDF: reading xref prev stream: %v", err))
			return nil, failf(TaxonMalformed, "", "reading xref prev stream: %v", err)
		}
	}
	logger.Debug("merged Prev stream data")
	return table, nil
}

func readXrefStreamData(r *Reader, strm stream, table []xref, size int64) ([]xref, error) {
	index, _ := strm.hdr["Index"].(array)
	if index == nil {
		index = array{int64(0), size}
	}
	if len(index)%2 != 0 {
		return nil, errors.New("invalid Index array")
	}

	ww, ok := strm.hdr["W"].(array)
	if !ok {
		return nil, errors.New("xref stream missing W array")
	}
	var w []int
	for _, x := range ww {
		i, ok := x.(int64)
		if !ok || i < 0 || i > 8 {
			return nil, errors.New("invalid W array")
		}
		w = append(w, int(i))
	}
	if len(w) < 3 {
		return nil, errors.New("invalid W array")
	}

	v := Value{r, strm.ptr, strm}
	wtotal := 0
	for _, wid := range w {
		wtotal += wid
	}
	buf := make([]byte, wtotal)
	data := v.Reader()
	defer data.Close()
	for len(index) > 0 {
		start, ok1 := index[0].(int64)
		n, ok2 := index[1].(int64)
		if !ok1 || !ok2 || start < 0 || n < 0 || start+n > size {
			return nil, errors.New("malformed Index pair")
		}
		index = index[2:]
		for i := 0; i < int(n); i++ {
			if _, err := io.ReadFull(data, buf); err != nil {
				return nil, fmt.Errorf("error reading xref stream: %v", err)
			}
			v1 := decodeInt(buf[0:w[0]])
			if w[0] == 0 {
				v1 = 1
			}
			v2 := decodeInt(buf[w[0] : w[0]+w[1]])
			v3 := decodeInt(buf[w[0]+w[1] : w[0]+w[1]+w[2]])
			x := int(start) + i
			for cap(table) <= x {
				table = append(table[:cap(table)], xref{})
			}
			if len(table) <= x {
				table = table[:x+1]
			}
			if table[x].ptr != (objptr{}) {
				continue
			}
			switch v1 {
			case 0:
				table[x] = xref{ptr: objptr{0, 65535}}
			case 1:
				table[x] = xref{ptr: objptr{uint32(x), uint16(v3)}, offset: int64(v2)}
			case 2:
				table[x] = xref{ptr: objptr{uint32(x), 0}, inStream: true, stream: objptr{uint32(v2), 0}, offset: int64(v3)}
			default:
				logger.Error(fmt.Sprintf("invalid xref stream type %d", v1))
			}
		}
	}
	logger.Debug(fmt.Sprintf("parseXrefEntries (entries parsed=%d)", size), true)
	return table, nil
}

func decodeInt(b []byte) int {
	x := 0
	for _, c := range b {
		x = x<<8 | int(c)
	}
	return x
}

func readXrefTable(r *Reader, b *buffer) ([]xref, objptr, dict, error) {
	logger.Debug("processing xref table")
	table, trailer, err := parseXrefTableAndTrailer(b, nil)
	if err != nil {
		return nil, objptr{}, nil, err
	}

	// Parse the xref stream pointed to by the trailer, if any, and merge.
	table, trailer, err = r.handleTrailerXRefStm(table, trailer)
	if err != nil {
		return nil, objptr{}, nil, err
	}

	// Follow the Prev chain if present.
	table, trailer, err = resolvePrevXrefTables(r, trailer, table)
	if err != nil {
		return nil, objptr{}, nil, err
	}

	if err := validateTrailerSize(&table, trailer); err != nil {
		return nil, objptr{}, nil, err
	}
	return table, objptr{}, trailer, nil
}

// parseXrefTableAndTrailer parses a single xref table section
// and the trailer dictionary that follows it.
func parseXrefTableAndTrailer(b *buffer, table []xref) ([]xref, dict, error) {
	var err error
	table, err = readXrefTableData(b, table)
	if err != nil {
		logger.Error(fmt.Sprintf("malformed PDF: %v", err))
		return nil, nil, failf(TaxonMalformed, "", "xref table: %v", err)
	}
	logger.Debug(fmt.Sprintf("Parsed xref table section with %d entries so far", len(table)))
	trailer, ok := b.readObject().(dict)
	if !ok {
		logger.Error("malformed PDF: xref table not followed by trailer dictionary")
		return nil, nil, failf(TaxonMalformed, "", "xref table not followed by trailer dictionary")
	}
	return table, trailer, nil
}

func resolvePrevXrefTables(r *Reader, trailer dict, table []xref) ([]xref, dict, error) {
	sections := 0
	for prevoff := trailer[name("Prev")]; prevoff != nil; {
		if sections++; sections > maxXrefSections {
			return nil, nil, failf(TaxonMalformed, "", "xref Prev chain too long")
		}
		off, ok := prevoff.(int64)
		if !ok {
			logger.Error("malformed PDF: xref Prev is not integer")
			return nil, nil, failf(TaxonMalformed, "", "xref /Prev is not an integer")
		}
		logger.Debug("found Prev xref table", true)
		if off < 0 || off >= r.end {
			return nil, nil, failf(TaxonMalformed, "", "xref /Prev offset outside file")
		}
		b := newBuffer(io.NewSectionReader(r.f, off, r.end-off), off)
		tok := b.readToken()
		if tok != keyword("xref") {
			logger.Error("malformed PDF: xref Prev does not point to xref")
			return nil, nil, failf(TaxonMalformed, "", "xref /Prev does not point to xref")
		}
		var err error
		table, trailer, err = parseXrefTableAndTrailer(b, table)
		if err != nil {
			return nil, nil, err
		}
		table, trailer, err = r.handleTrailerXRefStm(table, trailer)
		if err != nil {
			return nil, nil, err
		}
		prevoff = trailer[name("Prev")]
	}
	return table, trailer, nil
}

// validateTrailerSize trims the xref table to the declared /Size in trailer.
func validateTrailerSize(table *[]xref, trailer dict) error {
	size, ok := trailer[name("Size")].(int64)
	if !ok {
		logger.Error("malformed PDF: trailer missing /Size entry")
		return failf(TaxonMalformed, "", "trailer missing /Size entry")
	}
	if size < int64(len(*table)) {
		*table = (*table)[:size]
	}
	logger.Debug(fmt.Sprintf("trailer size validated: %d", size))
	return nil
}

// ensureLen makes sure s has length at least n (growing capacity if needed)
// and returns the possibly-reallocated slice.
func ensureLen[T any](s []T, n int) []T {
	if n <= len(s) {
		return s
	}
	if cap(s) < n {
		ns := make([]T, n)
		copy(ns, s)
		return ns
	}
	return s[:n]
}

// setIfEmpty sets table[x] to val only if the slot is currently empty.
func setIfEmpty(table *[]xref, x int, val xref) {
	if x < 0 {
		return
	}
	*table = ensureLen(*table, x+1)
	if (*table)[x].ptr == (objptr{}) {
		(*table)[x] = val
	}
}

func readXrefTableData(b *buffer, table []xref) ([]xref, error) {
	logger.Debug("reading xref table data")
	for {
		tok := b.readToken()
		if tok == keyword("trailer") {
			break
		}
		start, ok1 := tok.(int64)
		count, ok2 := b.readToken().(int64)
		if !ok1 || !ok2 || start < 0 || count < 0 || start+count > 1<<24 {
			return nil, errors.New("malformed xref table subsection header")
		}
		for i := 0; i < int(count); i++ {
			offTok := b.readToken()
			genTok := b.readToken()
			allocTok := b.readToken()

			off, okOff := offTok.(int64)
			gen, okGen := genTok.(int64)
			alloc, okAlloc := allocTok.(keyword)
			if !okOff || !okGen || !okAlloc {
				return nil, fmt.Errorf("malformed xref entry at subsection starting %d", start)
			}

			idx := int(start) + i
			switch alloc {
			case keyword("n"): // in-use — record if empty
				setIfEmpty(&table, idx, xref{ptr: objptr{uint32(idx), uint16(gen)}, offset: off})
			case keyword("f"): // free — ensure slice long enough for safe indexing
				table = ensureLen(table, idx+1)
			default:
				return nil, fmt.Errorf("malformed xref table: unexpected alloc token %v", alloc)
			}
		}
	}
	return table, nil
}

// mergeXrefTables merges src into dest using conservative rules:
// - extend dest if src bigger
// - if dest empty => accept src
// - if both in-use => prefer src (stream authoritative)
func mergeXrefTables(dest []xref, src []xref) []xref {
	if len(src) > len(dest) {
		nd := make([]xref, len(src))
		copy(nd, dest)
		dest = nd
	}
	for i := 0; i < len(src); i++ {
		s := src[i]
		if s.ptr == (objptr{}) {
			continue
		}
		d := dest[i]
		if d.ptr == (objptr{}) {
			dest[i] = s
			continue
		}
		if d.ptr.gen != 65535 && s.ptr.gen != 65535 {
			dest[i] = s
		}
	}
	return dest
}

// handleTrailerXRefStm: if trailer contains /XRefStm, parse that stream and
// merge its table into the provided table.
func (r *Reader) handleTrailerXRefStm(table []xref, trailer dict) ([]xref, dict, error) {
	xrefstm := trailer[name("XRefStm")]
	if xrefstm == nil {
		return table, trailer, nil
	}
	logger.Debug("found XRefStm in trailer", true)
	off, ok := xrefstm.(int64)
	if !ok || off < 0 || off >= r.end {
		logger.Error("malformed PDF: XRefStm not a valid offset")
		return nil, nil, failf(TaxonMalformed, "", "/XRefStm is not a valid offset")
	}
	b := newBuffer(io.NewSectionReader(r.f, off, r.end-off), off)
	srcTable, _, hdr, err := readXrefStream(r, b)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := hdr["Size"]; !ok {
		return nil, nil, failf(TaxonMalformed, "", "XRefStm missing /Size")
	}
	table = mergeXrefTables(table, srcTable)
	return table, trailer, nil
}

// findLastLine searches backwards in buf for the last occurrence of the
// keyword s (e.g. "startxref") that is followed by PDF whitespace including
// at least one EOL. Producers often insert trailing spaces, tabs, or nulls
// after "startxref" before the required newline; all six PDF whitespace
// characters are tolerated as long as a CR or LF is among them.
func findLastLine(buf []byte, s string) int {
	bs := []byte(s)
	var indices []int

	for i := 0; ; {
		j := bytes.Index(buf[i:], bs)
		if j < 0 {
			break
		}
		indices = append(indices, i+j)
		i += j + 1
	}

	for k := len(indices) - 1; k >= 0; k-- {
		i := indices[k]
		j := skipWhitespace(buf, i+len(bs))
		if endsWithEOL(buf, i+len(bs), j) {
			return i
		}
	}
	return -1
}

// skipWhitespace advances j past all PDF whitespace (ISO 32000-1 §7.2.2).
func skipWhitespace(buf []byte, j int) int {
	for j < len(buf) && isSpace(buf[j]) {
		j++
	}
	return j
}

// endsWithEOL checks if the last skipped char is CR or LF.
func endsWithEOL(buf []byte, start, end int) bool {
	if end > start {
		last := buf[end-1]
		return last == '\n' || last == '\r'
	}
	return false
}

// A Value is a single PDF value, such as an integer, dictionary, or array.
// The zero Value is a PDF null (Kind() == Null, IsNull() == true).
type Value struct {
	r    *Reader
	ptr  objptr
	data interface{}
}

// IsNull reports whether the value is a null. It is equivalent to Kind() == Null.
func (v Value) IsNull() bool {
	return v.data == nil
}

// A ValueKind specifies the kind of data underlying a Value.
type ValueKind int

// The PDF value kinds.
const (
	Null ValueKind = iota
	Bool
	Integer
	Real
	String
	Name
	Dict
	Array
	Stream
)

// Kind reports the kind of value underlying v.
func (v Value) Kind() ValueKind {
	switch v.data.(type) {
	default:
		return Null
	case bool:
		return Bool
	case int64:
		return Integer
	case float64:
		return Real
	case string:
		return String
	case name:
		return Name
	case dict:
		return Dict
	case array:
		return Array
	case stream:
		return Stream
	}
}

// String returns a textual representation of the value v.
// Note that String is not the accessor for values with Kind() == String;
// use RawString for those.
func (v Value) String() string {
	return objfmt(v.data)
}

func objfmt(x interface{}) string {
	switch x := x.(type) {
	default:
		return fmt.Sprint(x)
	case string:
		return strconv.Quote(x)
	case name:
		return "/" + string(x)
	case dict:
		var keys []string
		for k := range x {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteString("<<")
		for i, k := range keys {
			elem := x[name(k)]
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString("/")
			buf.WriteString(k)
			buf.WriteString(" ")
			buf.WriteString(objfmt(elem))
		}
		buf.WriteString(">>")
		return buf.String()

	case array:
		var buf bytes.Buffer
		buf.WriteString("[")
		for i, elem := range x {
			if i > 0 {
				buf.WriteString(" ")
			}
			buf.WriteString(objfmt(elem))
		}
		buf.WriteString("]")
		return buf.String()

	case stream:
		return fmt.Sprintf("%v@%d", objfmt(x.hdr), x.offset)

	case objptr:
		return fmt.Sprintf("%d %d R", x.id, x.gen)

	case objdef:
		return fmt.Sprintf("{%d %d obj}%v", x.ptr.id, x.ptr.gen, objfmt(x.obj))
	}
}

// Bool returns v's boolean value.
// If v.Kind() != Bool, Bool returns false.
func (v Value) Bool() bool {
	x, ok := v.data.(bool)
	if !ok {
		return false
	}
	return x
}

// Int64 returns v's int64 value.
// If v.Kind() != Integer, Int64 returns 0.
func (v Value) Int64() int64 {
	x, ok := v.data.(int64)
	if !ok {
		return 0
	}
	return x
}

// Float64 returns v's float64 value, converting from integer if necessary.
// If v.Kind() != Real and v.Kind() != Integer, Float64 returns 0.
func (v Value) Float64() float64 {
	x, ok := v.data.(float64)
	if !ok {
		x, ok := v.data.(int64)
		if ok {
			return float64(x)
		}
		return 0
	}
	return x
}

// RawString returns v's string value.
// If v.Kind() != String, RawString returns the empty string.
func (v Value) RawString() string {
	x, ok := v.data.(string)
	if !ok {
		return ""
	}
	return x
}

// Name returns v's name value.
// If v.Kind() != Name, Name returns the empty string.
// The returned name does not include the leading slash:
// if v corresponds to the name written using the syntax /Helvetica,
// Name() == "Helvetica".
func (v Value) Name() string {
	x, ok := v.data.(name)
	if !ok {
		return ""
	}
	return string(x)
}

// Key returns the value associated with the given name key in the dictionary v.
// Like the result of the Name method, the key should not include a leading slash.
// If v is a stream, Key applies to the stream's header dictionary.
// If v.Kind() != Dict and v.Kind() != Stream, Key returns a null Value.
func (v Value) Key(key string) Value {
	x, ok := v.data.(dict)
	if !ok {
		strm, ok := v.data.(stream)
		if !ok {
			return Value{}
		}
		x = strm.hdr
	}
	return v.r.resolve(v.ptr, x[name(key)])
}

// RawKey is Key without indirect-reference resolution; it reports the
// presence of a key even when the referenced object is unreadable.
func (v Value) RawKey(key string) (object, bool) {
	x, ok := v.data.(dict)
	if !ok {
		strm, ok := v.data.(stream)
		if !ok {
			return nil, false
		}
		x = strm.hdr
	}
	o, ok := x[name(key)]
	return o, ok
}

// Keys returns a sorted list of the keys in the dictionary v.
// If v is a stream, Keys applies to the stream's header dictionary.
// If v.Kind() != Dict and v.Kind() != Stream, Keys returns nil.
func (v Value) Keys() []string {
	x, ok := v.data.(dict)
	if !ok {
		strm, ok := v.data.(stream)
		if !ok {
			return nil
		}
		x = strm.hdr
	}
	keys := []string{} // not nil
	for k := range x {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Index returns the i'th element in the array v.
// If v.Kind() != Array or if i is outside the array bounds,
// Index returns a null Value.
func (v Value) Index(i int) Value {
	x, ok := v.data.(array)
	if !ok || i < 0 || i >= len(x) {
		return Value{}
	}
	return v.r.resolve(v.ptr, x[i])
}

// Len returns the length of the array v.
// If v.Kind() != Array, Len returns 0.
func (v Value) Len() int {
	x, ok := v.data.(array)
	if !ok {
		return 0
	}
	return len(x)
}

const maxObjStmChain = 32

func (r *Reader) resolve(parent objptr, x interface{}) Value {
	if ptr, ok := x.(objptr); ok {
		if r == nil || ptr.id >= uint32(len(r.xref)) {
			return Value{}
		}
		xref := r.xref[ptr.id]
		if xref.ptr != ptr || !xref.inStream && xref.offset == 0 {
			return Value{}
		}
		if xref.inStream {
			strm := r.resolve(parent, xref.stream)
			chain := 0
		Search:
			for {
				if chain++; chain > maxObjStmChain {
					panic(failf(TaxonMalformed, objfmt(ptr), "object stream Extends chain too long"))
				}
				if strm.Kind() != Stream {
					logger.Error("not a stream")
					panic(failf(TaxonMalformed, objfmt(ptr), "object stream is not a stream"))
				}
				if strm.Key("Type").Name() != "ObjStm" {
					logger.Error("not an object stream")
					panic(failf(TaxonMalformed, objfmt(ptr), "not an object stream"))
				}
				n := int(strm.Key("N").Int64())
				first := strm.Key("First").Int64()
				if first == 0 {
					logger.Error("missing First")
					panic(failf(TaxonMalformed, objfmt(ptr), "object stream missing /First"))
				}
				b := newBuffer(strm.Reader(), 0)
				b.allowEOF = true
				for i := 0; i < n; i++ {
					id, _ := b.readToken().(int64)
					off, _ := b.readToken().(int64)
					if uint32(id) == ptr.id {
						b.seekForward(first + off)
						x = b.readObject()
						break Search
					}
				}
				ext := strm.Key("Extends")
				if ext.Kind() != Stream {
					logger.Error("cannot find object in stream")
					panic(failf(TaxonMalformed, objfmt(ptr), "cannot find object in object stream"))
				}
				strm = ext
			}
		} else {
			b := newBuffer(io.NewSectionReader(r.f, xref.offset, r.end-xref.offset), xref.offset)
			obj := b.readObject()
			def, ok := obj.(objdef)
			if !ok {
				logger.Error(fmt.Sprintf("loading %v: found %T instead of objdef", ptr, obj))
				panic(failf(TaxonMalformed, objfmt(ptr), "object at offset %d is not a definition", xref.offset))
			}
			if def.ptr != ptr {
				logger.Error(fmt.Sprintf("loading %v: found %v", ptr, def.ptr))
				panic(failf(TaxonMalformed, objfmt(ptr), "object identity mismatch: found %v", objfmt(def.ptr)))
			}
			x = def.obj
			if strm, ok := x.(stream); ok {
				strm.ptr = ptr
				x = strm
			}
		}
		parent = ptr
	}

	switch x := x.(type) {
	case nil, bool, int64, float64, name, dict, array, stream:
		return Value{r, parent, x}
	case string:
		return Value{r, parent, x}
	default:
		logger.Error(fmt.Sprintf("unexpected value type %T in resolve", x))
		panic(failf(TaxonMalformed, "", "unexpected value type %T in resolve", x))
	}
}
