// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Stream filter decoding. Every decoder runs behind a fixed output budget so
// a decompression bomb fails with DECOMPRESSION_BUDGET_EXCEEDED instead of
// exhausting the worker.

package sanitize

import (
	"compress/zlib"
	"encoding/ascii85"
	"fmt"
	"io"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

type errorReadCloser struct {
	err error
}

func (e *errorReadCloser) Read([]byte) (int, error) {
	return 0, e.err
}

func (e *errorReadCloser) Close() error {
	return e.err
}

// Reader returns the decoded data contained in the stream v, bounded by the
// reader's decode budget. If v.Kind() != Stream, Reader returns a ReadCloser
// that responds to all reads with a "stream not present" error.
func (v Value) Reader() io.ReadCloser {
	logger.Debug("Reader: reading the data contained in the stream")

	x, ok := v.data.(stream)
	if !ok {
		logger.Error("stream not present")
		return &errorReadCloser{fmt.Errorf("stream not present")}
	}
	var rd io.Reader
	length := v.Key("Length").Int64()
	if length < 0 || x.offset+length > v.r.end {
		panic(failf(TaxonMalformed, objfmt(x.ptr), "stream length %d extends past end of file", length))
	}
	rd = io.NewSectionReader(v.r.f, x.offset, length)
	filter := v.Key("Filter")
	param := v.Key("DecodeParms")
	switch filter.Kind() {
	default:
		logger.Error(fmt.Sprintf("unsupported filter %v", filter))
		panic(failf(TaxonDisallowedConstruct, objfmt(x.ptr), "unsupported filter %v", filter))
	case Null:
		// ok
	case Name:
		rd = applyFilter(rd, filter.Name(), param)
	case Array:
		for i := 0; i < filter.Len(); i++ {
			rd = applyFilter(rd, filter.Index(i).Name(), param.Index(i))
		}
	}
	if v.r.decodeBudget > 0 {
		rd = newBudgetReader(rd, v.r.decodeBudget, objfmt(x.ptr))
	}
	return io.NopCloser(rd)
}

func applyFilter(rd io.Reader, name string, param Value) io.Reader {
	logger.Debug("applyFilter")
	switch name {
	default:
		logger.Error("disallowed stream filter " + name)
		panic(failf(TaxonDisallowedConstruct, "", "stream filter %q not allowed", name))
	case "FlateDecode":
		zr, err := zlib.NewReader(rd)
		if err != nil {
			logger.Error(err.Error())
			panic(failf(TaxonMalformed, "", "flate stream: %v", err))
		}
		logger.Debug("filter: FlateDecode (decoder initialized)", true)
		pred := param.Key("Predictor")
		if pred.Kind() == Null || pred.Int64() == 1 {
			return zr
		}
		columns := param.Key("Columns").Int64()
		if columns <= 0 || columns > 1<<20 {
			logger.Error(fmt.Sprintf("bad predictor columns %d", columns))
			panic(failf(TaxonMalformed, "", "bad predictor columns %d", columns))
		}
		switch pred.Int64() {
		default:
			logger.Error(fmt.Sprintf("unknown predictor %d", pred.Int64()))
			panic(failf(TaxonDisallowedConstruct, "", "predictor %d not allowed", pred.Int64()))
		case 12:
			return &pngUpReader{r: zr, hist: make([]byte, 1+columns), tmp: make([]byte, 1+columns)}
		}
	case "ASCII85Decode":
		cleanASCII85 := newAlphaReader(rd)
		decoder := ascii85.NewDecoder(cleanASCII85)

		if param.Keys() != nil {
			logger.Error("not expected DecodeParms for ascii85")
			panic(failf(TaxonMalformed, "", "unexpected DecodeParms for ASCII85Decode"))
		}
		return decoder
	}
}

// alphaReader strips everything that is not ASCII85 alphabet from the
// underlying stream and terminates at the "~>" end marker, which Go's
// decoder does not accept.
type alphaReader struct {
	r    io.Reader
	done bool
}

func newAlphaReader(r io.Reader) *alphaReader {
	return &alphaReader{r: r}
}

func (a *alphaReader) Read(p []byte) (int, error) {
	if a.done {
		return 0, io.EOF
	}
	n, err := a.r.Read(p)
	out := 0
	for i := 0; i < n; i++ {
		c := p[i]
		if c == '~' {
			a.done = true
			break
		}
		if (c >= '!' && c <= 'u') || c == 'z' {
			p[out] = c
			out++
		}
	}
	if out == 0 && a.done {
		return 0, io.EOF
	}
	return out, err
}

type pngUpReader struct {
	r    io.Reader
	hist []byte
	tmp  []byte
	pend []byte
}

func (r *pngUpReader) Read(b []byte) (int, error) {
	n := 0
	for len(b) > 0 {
		if len(r.pend) > 0 {
			m := copy(b, r.pend)
			n += m
			b = b[m:]
			r.pend = r.pend[m:]
			continue
		}
		_, err := io.ReadFull(r.r, r.tmp)
		if err != nil {
			return n, err
		}
		if r.tmp[0] != 2 {
			logger.Error("malformed PNG-Up encoding")
			return n, failf(TaxonMalformed, "", "malformed PNG-Up encoding")
		}
		for i, b := range r.tmp {
			r.hist[i] += b
		}
		r.pend = r.hist[1:]
	}
	return n, nil
}

// budgetReader fails a read once more than limit bytes have been produced by
// the decoders underneath it.
type budgetReader struct {
	r         io.Reader
	remaining int64
	locator   string
}

func newBudgetReader(r io.Reader, limit int64, locator string) *budgetReader {
	return &budgetReader{r: r, remaining: limit, locator: locator}
}

func (b *budgetReader) Read(p []byte) (int, error) {
	if b.remaining < 0 {
		logger.Error("stream decode budget exceeded")
		return 0, failf(TaxonDecompressionBudget, b.locator, "decoded stream exceeds budget")
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		return n, failf(TaxonDecompressionBudget, b.locator, "decoded stream exceeds budget")
	}
	return n, err
}
