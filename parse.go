// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// The whitelist parser. Parsing is constructive, not editorial: the input's
// object graph is traversed, the allow-listed constructs are rebuilt into a
// fresh IR, and every byte that was not explicitly interpreted into an IR
// field is discarded. No partial IR is ever returned.

package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// A ParseResult is the worker's complete output for one input file: the IR
// plus the threats that were removed (lenient) or that caused rejection
// (aggressive).
type ParseResult struct {
	Doc     *Document `json:"document"`
	Threats []Threat  `json:"threats"`
}

// Parse reads the PDF at inputPath under cfg's limits and policy and
// produces a validated IR Document or a typed failure. It is the routine
// the isolation harness confines to the worker process; calling it in
// process is reserved for tests and trusted inputs.
func Parse(inputPath string, cfg *Config) (*ParseResult, error) {
	logger.Debug(fmt.Sprintf("Starting whitelist parse: path=%s policy=%s", inputPath, cfg.Policy), true)

	fi, err := os.Stat(inputPath)
	if err != nil {
		return nil, failf(TaxonIO, inputPath, "stat input: %v", err)
	}
	if fi.Size() > cfg.MaxInputBytes {
		return nil, failf(TaxonOversize, inputPath, "input is %d bytes, cap is %d", fi.Size(), cfg.MaxInputBytes)
	}

	srcHash, _, err := HashFile(inputPath)
	if err != nil {
		return nil, failf(TaxonIO, inputPath, "hash input: %v", err)
	}

	f, r, err := Open(inputPath, cfg.MaxDecodeOutputBytes)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := parseReader(r, srcHash, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("Whitelist parse complete: pages=%d threats=%d", len(res.Doc.Pages), len(res.Threats)), true)
	return res, nil
}

func parseReader(r *Reader, srcHash string, cfg *Config) (_ *ParseResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f, ok := rec.(*Failure); ok {
				err = f
				return
			}
			panic(rec)
		}
	}()

	doc := &Document{
		ParserVersion: ParserVersion,
		SourceSHA256:  srcHash,
		Pages:         []Page{},
	}
	var threats []Threat

	// Document-level scan. Under the aggressive policy the first
	// executable/interactive construct rejects the whole job.
	catThreats := scanCatalog(r)
	if cfg.Policy == Aggressive && len(catThreats) > 0 {
		t := catThreats[0]
		markRejected(catThreats)
		return nil, &parseRejection{
			failure: failf(TaxonDisallowedConstruct, t.Locator, "%s", t.Kind),
			threats: catThreats,
		}
	}
	markRemoved(catThreats)
	threats = append(threats, catThreats...)

	total := r.NumPage()
	if total <= 0 {
		// A page tree the reader cannot enumerate is structural damage.
		if r.Trailer().Key("Root").Key("Pages").IsNull() {
			return nil, failf(TaxonTruncated, "", "document has no page tree")
		}
	}
	if int64(total) > cfg.MaxPages {
		return nil, failf(TaxonLimitExceeded, "", "page count %d exceeds %d", total, cfg.MaxPages)
	}

	for num := 1; num <= total; num++ {
		p := r.Page(num)
		if p.V.IsNull() {
			return nil, failf(TaxonTruncated, fmt.Sprintf("page %d", num), "page missing from page tree")
		}

		page, pageThreats, err := admitPage(p, num, cfg)
		if err != nil {
			f := ToFailure(err, TaxonMalformed)
			switch {
			case cfg.Policy == Aggressive:
				if f.Taxon == TaxonDisallowedConstruct {
					markRejected(pageThreats)
					return nil, &parseRejection{failure: f, threats: append(threats, pageThreats...)}
				}
				return nil, f
			case f.Taxon == TaxonDisallowedConstruct || f.Taxon == TaxonMalformed:
				// Lenient: the page is rejected, the document survives.
				logger.Debug(fmt.Sprintf("page %d rejected: %v", num, f), true)
				threats = append(threats, Threat{
					Kind:     "RejectedPage",
					Severity: SeverityHigh,
					Locator:  fmt.Sprintf("page %d: %s", num, f.Detail),
					Action:   ActionRemoved,
				})
				continue
			default:
				// Resource limits and I/O problems fail the job under
				// either policy.
				return nil, f
			}
		}
		markRemoved(pageThreats)
		threats = append(threats, pageThreats...)
		doc.Pages = append(doc.Pages, *page)
	}

	// The parser validates its own output before it leaves the process;
	// the controller will repeat this check on the other side of the
	// isolation boundary.
	if err := doc.Validate(cfg.IRLimits()); err != nil {
		return nil, err
	}
	if threats == nil {
		threats = []Threat{}
	}
	return &ParseResult{Doc: doc, Threats: threats}, nil
}

// admitPage builds one IR page: geometry, admitted resources, and the
// whitelisted operation sequence.
func admitPage(p PageValue, num int, cfg *Config) (*Page, []Threat, error) {
	loc := fmt.Sprintf("page %d", num)
	var threats []Threat

	threats = append(threats, scanPage(p, num)...)
	if cfg.Policy == Aggressive && len(threats) > 0 {
		t := threats[0]
		return nil, threats, failf(TaxonDisallowedConstruct, t.Locator, "%s", t.Kind)
	}

	mb := p.MediaBox()
	if mb.IsNull() {
		return nil, threats, failf(TaxonMalformed, loc, "no /MediaBox on page or ancestors")
	}
	mediaBox, err := rectFromValue(mb)
	if err != nil {
		return nil, threats, failf(TaxonMalformed, loc, "/MediaBox: %v", err)
	}

	page := &Page{MediaBox: mediaBox, Fonts: map[string]FontRef{}, Images: map[string]ImageRef{}}
	if cb := p.CropBox(); !cb.IsNull() {
		cropBox, err := rectFromValue(cb)
		if err != nil {
			return nil, threats, failf(TaxonMalformed, loc, "/CropBox: %v", err)
		}
		page.CropBox = &cropBox
	}

	dropped := map[string]bool{}

	// Fonts: only the standard-14 base fonts, and only without an embedded
	// font program.
	for _, fname := range p.Fonts() {
		fv := p.Font(fname)
		base := fv.Key("BaseFont").Name()
		canon, ok := CanonicalBaseFont(base)
		if ok && fontCarriesProgram(fv) {
			ok = false
		}
		if !ok {
			t := Threat{Kind: "EmbeddedFont", Severity: SeverityMedium, Locator: fmt.Sprintf("%s /Font/%s (%s)", loc, fname, base)}
			if cfg.Policy == Aggressive {
				return nil, append(threats, t), failf(TaxonDisallowedConstruct, t.Locator, "%s", t.Kind)
			}
			threats = append(threats, t)
			dropped[fname] = true
			continue
		}
		page.Fonts[fname] = FontRef{BaseFont: canon}
	}

	// XObjects: images only. Form XObjects are arbitrary content streams
	// and are never admitted.
	for _, xname := range p.XObjects() {
		xv := p.XObject(xname)
		xloc := fmt.Sprintf("%s /XObject/%s", loc, xname)
		if sub := xv.Key("Subtype").Name(); sub != "Image" {
			t := Threat{Kind: "FormXObject", Severity: SeverityHigh, Locator: xloc}
			if sub != "" && sub != "Form" {
				t.Kind = "XObject/" + sub
			}
			if cfg.Policy == Aggressive {
				return nil, append(threats, t), failf(TaxonDisallowedConstruct, t.Locator, "%s", t.Kind)
			}
			threats = append(threats, t)
			dropped[xname] = true
			continue
		}
		ref, err := admitImage(xv, xloc, cfg)
		if err != nil {
			f := ToFailure(err, TaxonMalformed)
			if f.Taxon == TaxonDisallowedConstruct {
				t := Threat{Kind: "ImageFilter", Severity: SeverityHigh, Locator: xloc}
				if cfg.Policy == Aggressive {
					return nil, append(threats, t), f
				}
				threats = append(threats, t)
				dropped[xname] = true
				continue
			}
			// Length mismatches, bombs, and oversized images are damage,
			// not strippable content. A length mismatch (MALFORMED) fails
			// the page under the lenient policy; decode-budget and size-limit
			// failures fail the job under either policy.
			return nil, threats, f
		}
		page.Images[xname] = *ref
	}

	ops, err := parseContent(p, page.Fonts, page.Images, dropped, cfg, num)
	if err != nil {
		if f := ToFailure(err, TaxonMalformed); f.Taxon == TaxonDisallowedConstruct {
			threats = append(threats, Threat{Kind: "ContentOperator", Severity: SeverityHigh, Locator: f.Locator + ": " + f.Detail})
		}
		return nil, threats, err
	}
	page.Ops = ops
	if page.Ops == nil {
		page.Ops = []Op{}
	}
	return page, threats, nil
}

// fontCarriesProgram reports whether a font dictionary references an
// embedded font program through its descriptor.
func fontCarriesProgram(fv Value) bool {
	fd := fv.Key("FontDescriptor")
	if fd.IsNull() {
		return false
	}
	for _, k := range []string{"FontFile", "FontFile2", "FontFile3"} {
		if _, ok := fd.RawKey(k); ok {
			return true
		}
	}
	return false
}

func markRejected(ts []Threat) {
	for i := range ts {
		ts[i].Action = ActionRejected
	}
}

func markRemoved(ts []Threat) {
	for i := range ts {
		if ts[i].Action == "" {
			ts[i].Action = ActionRemoved
		}
	}
}

// A parseRejection is a DISALLOWED_CONSTRUCT failure that still carries the
// threat list for the audit record.
type parseRejection struct {
	failure *Failure
	threats []Threat
}

func (p *parseRejection) Error() string { return p.failure.Error() }
func (p *parseRejection) Unwrap() error { return p.failure }

// RejectionThreats extracts the threat list from a parse error, if present.
func RejectionThreats(err error) []Threat {
	if err == nil {
		return nil
	}
	if pr, ok := err.(*parseRejection); ok {
		return pr.threats
	}
	return nil
}

// HashBytes is a convenience for hashing in-memory buffers in tests and the
// reconstructor's output hash.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
