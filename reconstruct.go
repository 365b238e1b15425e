// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// The reconstructor. It writes the output PDF from scratch: fresh header,
// fresh objects, fresh cross-reference table. It never copies or references
// bytes of the original file, and it embeds no timestamps, identifiers, or
// random bytes, so the same IR always serializes to the same output.

package sanitize

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// The output header is pinned: every construct the reconstructor can emit
// (flate streams, standard-14 fonts, plain page tree) is PDF 1.4 level.
const outputHeader = "%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"

// Reconstruct serializes doc to outPath. The file is assembled in memory,
// written to a temporary sibling, and renamed into place only after the
// write completed and the SHA-256 of the final bytes was computed; a failed
// job never leaves partial output. Returns the output's hash and size.
func Reconstruct(doc *Document, outPath string, cfg *Config) (string, int64, error) {
	if doc == nil || len(doc.Pages) == 0 {
		return "", 0, failf(TaxonEmptyDocument, "", "no pages to emit")
	}

	data, err := emit(doc)
	if err != nil {
		return "", 0, err
	}
	if int64(len(data)) > cfg.MaxOutputBytes {
		return "", 0, failf(TaxonOutputExceedsBudget, outPath, "output is %d bytes, cap is %d", len(data), cfg.MaxOutputBytes)
	}

	sum := HashBytes(data)
	tmp := outPath + ".tmp"
	if err := writeFileSync(tmp, data); err != nil {
		os.Remove(tmp)
		return "", 0, failf(TaxonIO, outPath, "write output: %v", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		os.Remove(tmp)
		return "", 0, failf(TaxonIO, outPath, "rename output: %v", err)
	}
	if err := syncDir(filepath.Dir(outPath)); err != nil {
		logger.Debug(fmt.Sprintf("sync output dir: %v", err))
	}
	logger.Debug(fmt.Sprintf("reconstructed %s: %d bytes, sha256=%s", outPath, len(data), sum), true)
	return sum, int64(len(data)), nil
}

// An emitter accumulates numbered objects and their byte offsets.
type emitter struct {
	buf     bytes.Buffer
	offsets []int64 // offsets[i] is the offset of object i+1
}

func (e *emitter) addObject(body []byte) int {
	num := len(e.offsets) + 1
	e.offsets = append(e.offsets, int64(e.buf.Len()))
	fmt.Fprintf(&e.buf, "%d 0 obj\n", num)
	e.buf.Write(body)
	e.buf.WriteString("\nendobj\n")
	return num
}

// reserve pre-allocates an object number whose body arrives later.
func (e *emitter) reserve() int {
	e.offsets = append(e.offsets, -1)
	return len(e.offsets)
}

func (e *emitter) fill(num int, body []byte) {
	e.offsets[num-1] = int64(e.buf.Len())
	fmt.Fprintf(&e.buf, "%d 0 obj\n", num)
	e.buf.Write(body)
	e.buf.WriteString("\nendobj\n")
}

func emit(doc *Document) ([]byte, error) {
	var e emitter
	e.buf.WriteString(outputHeader)

	catalogNum := e.reserve()
	pagesNum := e.reserve()

	// One font object per canonical base font used anywhere in the
	// document, in sorted order.
	baseFonts := map[string]bool{}
	for _, p := range doc.Pages {
		for _, f := range p.Fonts {
			baseFonts[f.BaseFont] = true
		}
	}
	sortedFonts := sortedKeys(baseFonts)
	fontNums := map[string]int{}
	for _, bf := range sortedFonts {
		fontNums[bf] = e.addObject([]byte(fmt.Sprintf(
			"<< /Type /Font /Subtype /Type1 /BaseFont /%s >>", bf)))
	}

	var kids []int
	for pi := range doc.Pages {
		p := &doc.Pages[pi]

		// Synthesized local names: the input's resource names never reach
		// the output.
		fontLocal := map[string]string{}
		fontRes := map[string]int{}
		for i, old := range sortedKeys2(p.Fonts) {
			local := fmt.Sprintf("F%d", i)
			fontLocal[old] = local
			fontRes[local] = fontNums[p.Fonts[old].BaseFont]
		}
		imageLocal := map[string]string{}
		imageNums := map[string]int{}
		for i, old := range sortedKeys3(p.Images) {
			img := p.Images[old]
			local := fmt.Sprintf("Im%d", i)
			imageLocal[old] = local
			body, err := imageObject(&img)
			if err != nil {
				return nil, err
			}
			imageNums[local] = e.addObject(body)
		}

		content, err := contentStream(p, fontLocal, imageLocal)
		if err != nil {
			return nil, err
		}
		contentNum := e.addObject(streamObject(content))

		var pb bytes.Buffer
		pb.WriteString("<< /Type /Page /Parent ")
		fmt.Fprintf(&pb, "%d 0 R", pagesNum)
		pb.WriteString(" /MediaBox ")
		writeRect(&pb, p.MediaBox)
		if p.CropBox != nil {
			pb.WriteString(" /CropBox ")
			writeRect(&pb, *p.CropBox)
		}
		pb.WriteString(" /Resources << ")
		if len(fontRes) > 0 {
			pb.WriteString("/Font << ")
			for _, local := range sortedKeys(mapKeysBool(fontRes)) {
				fmt.Fprintf(&pb, "/%s %d 0 R ", local, fontRes[local])
			}
			pb.WriteString(">> ")
		}
		if len(imageNums) > 0 {
			pb.WriteString("/XObject << ")
			for _, local := range sortedKeys(mapKeysBool(imageNums)) {
				fmt.Fprintf(&pb, "/%s %d 0 R ", local, imageNums[local])
			}
			pb.WriteString(">> ")
		}
		pb.WriteString("/ProcSet [/PDF /Text /ImageB /ImageC /ImageI] ")
		pb.WriteString(">>")
		fmt.Fprintf(&pb, " /Contents %d 0 R >>", contentNum)
		kids = append(kids, e.addObject(pb.Bytes()))
	}

	var kb bytes.Buffer
	kb.WriteString("<< /Type /Pages /Kids [")
	for i, k := range kids {
		if i > 0 {
			kb.WriteByte(' ')
		}
		fmt.Fprintf(&kb, "%d 0 R", k)
	}
	fmt.Fprintf(&kb, "] /Count %d >>", len(kids))
	e.fill(pagesNum, kb.Bytes())
	e.fill(catalogNum, []byte(fmt.Sprintf("<< /Type /Catalog /Pages %d 0 R >>", pagesNum)))

	// Cross-reference table and trailer, freshly built. No /Info, no /ID.
	xrefOff := int64(e.buf.Len())
	fmt.Fprintf(&e.buf, "xref\n0 %d\n", len(e.offsets)+1)
	e.buf.WriteString("0000000000 65535 f \n")
	for _, off := range e.offsets {
		if off < 0 {
			return nil, failf(TaxonInvariantViolation, "", "object reserved but never emitted")
		}
		fmt.Fprintf(&e.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&e.buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(e.offsets)+1, xrefOff)

	return e.buf.Bytes(), nil
}

// streamObject wraps already-serialized content in a flate stream object.
func streamObject(content []byte) []byte {
	compressed := deflate(content)
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< /Length %d /Filter /FlateDecode >>\nstream\n", len(compressed))
	b.Write(compressed)
	b.WriteString("\nendstream")
	return b.Bytes()
}

// imageObject rebuilds an image XObject from decoded samples. Pixel data is
// re-encoded with FlateDecode regardless of the input's filters; the
// original stream is never passed through.
func imageObject(img *ImageRef) ([]byte, error) {
	if img.Components() == 0 {
		return nil, failf(TaxonInvariantViolation, "", "image with unknown color space %q", img.ColorSpace)
	}
	compressed := deflate(img.PixelData)
	var b bytes.Buffer
	fmt.Fprintf(&b, "<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /%s /BitsPerComponent %d /Filter /FlateDecode /Length %d >>\nstream\n",
		img.Width, img.Height, img.ColorSpace, img.BitsPerComponent, len(compressed))
	b.Write(compressed)
	b.WriteString("\nendstream")
	return b.Bytes(), nil
}

// deflate compresses at a fixed level so identical input bytes always yield
// identical output bytes.
func deflate(data []byte) []byte {
	var b bytes.Buffer
	w, err := zlib.NewWriterLevel(&b, zlib.BestCompression)
	if err != nil {
		panic(err) // level is a constant
	}
	w.Write(data)
	w.Close()
	return b.Bytes()
}

// contentStream re-serializes the page's ops with strict lexical hygiene:
// no comments, no aliases, one operator per line.
func contentStream(p *Page, fontLocal, imageLocal map[string]string) ([]byte, error) {
	var b bytes.Buffer
	curFont := ""
	var curSize float64

	for _, op := range p.Ops {
		switch op.Kind {
		case OpTextBegin:
			b.WriteString("BT\n")
			curFont, curSize = "", 0
		case OpTextEnd:
			b.WriteString("ET\n")
		case OpTextMoveRel:
			writeNums(&b, op.Operands)
			b.WriteString("Td\n")
		case OpTextMoveAbs:
			// Absolute positioning is expressed as a translation matrix.
			fmt.Fprintf(&b, "1 0 0 1 %s %s Tm\n", formatNumber(op.Operands[0]), formatNumber(op.Operands[1]))
		case OpTextMoveNext:
			b.WriteString("T*\n")
		case OpSetTextMatrix:
			writeNums(&b, op.Operands)
			b.WriteString("Tm\n")
		case OpShowText, OpShowTextArray:
			local, ok := fontLocal[op.Font]
			if !ok {
				return nil, failf(TaxonInvariantViolation, "", "show op references unmapped font %q", op.Font)
			}
			if local != curFont || op.FontSize != curSize {
				fmt.Fprintf(&b, "/%s %s Tf\n", local, formatNumber(op.FontSize))
				curFont, curSize = local, op.FontSize
			}
			if op.Kind == OpShowText {
				writeString(&b, op.Text)
				b.WriteString(" Tj\n")
			} else {
				b.WriteByte('[')
				for i, it := range op.Items {
					if i > 0 {
						b.WriteByte(' ')
					}
					if it.Adjust != nil {
						b.WriteString(formatNumber(*it.Adjust))
					} else {
						writeString(&b, it.Text)
					}
				}
				b.WriteString("] TJ\n")
			}
		case OpMoveTo:
			writeNums(&b, op.Operands)
			b.WriteString("m\n")
		case OpLineTo:
			writeNums(&b, op.Operands)
			b.WriteString("l\n")
		case OpCurveTo:
			writeNums(&b, op.Operands)
			b.WriteString("c\n")
		case OpClosePath:
			b.WriteString("h\n")
		case OpRect:
			writeNums(&b, op.Operands)
			b.WriteString("re\n")
		case OpFill:
			b.WriteString("f\n")
		case OpStroke:
			b.WriteString("S\n")
		case OpEndPath:
			b.WriteString("n\n")
		case OpSave:
			b.WriteString("q\n")
		case OpRestore:
			b.WriteString("Q\n")
		case OpInvokeXObject:
			local, ok := imageLocal[op.Name]
			if !ok {
				return nil, failf(TaxonInvariantViolation, "", "invoke references unmapped image %q", op.Name)
			}
			fmt.Fprintf(&b, "/%s Do\n", local)
		default:
			return nil, failf(TaxonInvariantViolation, "", "op kind %q reached the reconstructor", op.Kind)
		}
	}
	return b.Bytes(), nil
}

func writeRect(b *bytes.Buffer, r Rectangle) {
	fmt.Fprintf(b, "[%s %s %s %s]", formatNumber(r.X0), formatNumber(r.Y0), formatNumber(r.X1), formatNumber(r.Y1))
}

func writeNums(b *bytes.Buffer, nums []float64) {
	for _, v := range nums {
		b.WriteString(formatNumber(v))
		b.WriteByte(' ')
	}
}

// formatNumber renders a numeric operand in PDF syntax: integers without a
// decimal point, reals in plain decimal (PDF admits no exponent notation).
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// writeString emits a literal PDF string, escaping delimiters and encoding
// every byte outside printable ASCII as an octal escape.
func writeString(b *bytes.Buffer, s []byte) {
	b.WriteByte('(')
	for _, c := range s {
		switch {
		case c == '(' || c == ')' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c > 0x7e:
			fmt.Fprintf(b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys2(m map[string]FontRef) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys3(m map[string]ImageRef) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mapKeysBool(m map[string]int) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}
