// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Image XObject admission. Every image is decoded to raw samples inside the
// worker and measured against its declared geometry before it may enter the
// IR; the original encoded stream never crosses the isolation boundary.

package sanitize

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"

	"golang.org/x/image/ccitt"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// Filters admissible in an image stream. The final entry of a chain is the
// image codec; anything before it must be a byte-transport filter.
var transportFilters = map[string]bool{
	"FlateDecode":   true,
	"ASCII85Decode": true,
}

const maxImageDimension = 32768

// admitImage decodes and validates one image XObject, returning the
// filter-free ImageRef or a typed failure. locator names the resource for
// threat records and error messages.
func admitImage(xobj Value, locator string, cfg *Config) (*ImageRef, error) {
	if xobj.Kind() != Stream {
		return nil, failf(TaxonMalformed, locator, "image XObject is not a stream")
	}

	width := xobj.Key("Width").Int64()
	height := xobj.Key("Height").Int64()
	if width <= 0 || height <= 0 {
		return nil, failf(TaxonMalformed, locator, "image bounds invalid (%d x %d)", width, height)
	}
	if width > maxImageDimension || height > maxImageDimension {
		return nil, failf(TaxonLimitExceeded, locator, "image dimension exceeds limit (%d x %d)", width, height)
	}
	if width*height > cfg.MaxImagePixels {
		return nil, failf(TaxonLimitExceeded, locator, "image pixel count %d exceeds limit %d", width*height, cfg.MaxImagePixels)
	}

	bpc := xobj.Key("BitsPerComponent").Int64()
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, failf(TaxonMalformed, locator, "bits per component %d not admissible", bpc)
	}

	cs := xobj.Key("ColorSpace").Name()
	switch cs {
	case ColorSpaceGray, ColorSpaceRGB, ColorSpaceCMYK:
	default:
		return nil, failf(TaxonDisallowedConstruct, locator, "color space %q not allowed", xobj.Key("ColorSpace").String())
	}
	if xobj.Key("ImageMask").Bool() {
		return nil, failf(TaxonDisallowedConstruct, locator, "image masks not allowed")
	}

	chain, parms := filterChain(xobj)
	codec := ""
	transport := chain
	if n := len(chain); n > 0 && !transportFilters[chain[n-1]] {
		codec = chain[n-1]
		transport = chain[:n-1]
	}
	for _, f := range transport {
		if !transportFilters[f] {
			return nil, failf(TaxonDisallowedConstruct, locator, "image filter %q not allowed", f)
		}
	}

	ref := &ImageRef{
		Width:            width,
		Height:           height,
		ColorSpace:       cs,
		BitsPerComponent: bpc,
		FilterChain:      chain,
	}

	switch codec {
	case "":
		// Raw or transport-only stream: samples arrive as declared.
		data, err := decodeTransport(xobj, transport, parms, cfg.MaxDecodeOutputBytes)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != ref.ExpectedByteLen() {
			logger.Error(fmt.Sprintf("image %s: decoded %d bytes, want %d", locator, len(data), ref.ExpectedByteLen()))
			return nil, failf(TaxonMalformed, locator, "decoded image length %d does not match declared %dx%dx%d@%d (want %d)",
				len(data), width, height, ref.Components(), bpc, ref.ExpectedByteLen())
		}
		ref.PixelData = data

	case "DCTDecode":
		if err := decodeDCT(xobj, transport, parms, cfg, ref, locator); err != nil {
			return nil, err
		}

	case "CCITTFaxDecode":
		if err := decodeCCITT(xobj, transport, parms, cfg, ref, locator); err != nil {
			return nil, err
		}

	case "JBIG2Decode":
		if !cfg.AllowJBIG2 {
			return nil, failf(TaxonDisallowedConstruct, locator, "image filter %q not allowed", codec)
		}
		// Admitted by configuration but no decoder is linked; without a
		// decode-and-measure pass the image cannot enter the IR.
		return nil, failf(TaxonMalformed, locator, "JBIG2Decode enabled but no decoder available")

	default:
		return nil, failf(TaxonDisallowedConstruct, locator, "image filter %q not allowed", codec)
	}

	if int64(len(ref.PixelData)) > cfg.MaxImageBytes {
		return nil, failf(TaxonLimitExceeded, locator, "image buffer %d exceeds limit %d", len(ref.PixelData), cfg.MaxImageBytes)
	}
	logger.Debug(fmt.Sprintf("image %s admitted: %dx%d %s %d bpc", locator, width, height, cs, ref.BitsPerComponent), true)
	return ref, nil
}

// filterChain collects the /Filter names and matching /DecodeParms entries.
func filterChain(xobj Value) ([]string, []Value) {
	var chain []string
	var parms []Value
	f := xobj.Key("Filter")
	p := xobj.Key("DecodeParms")
	switch f.Kind() {
	case Name:
		chain = append(chain, f.Name())
		parms = append(parms, p)
	case Array:
		for i := 0; i < f.Len(); i++ {
			chain = append(chain, f.Index(i).Name())
			parms = append(parms, p.Index(i))
		}
	}
	return chain, parms
}

// rawStreamReader returns the encoded payload of a stream value bounded to
// its declared /Length.
func rawStreamReader(v Value) (io.Reader, error) {
	x, ok := v.data.(stream)
	if !ok {
		return nil, failf(TaxonMalformed, "", "not a stream")
	}
	length := v.Key("Length").Int64()
	if length < 0 || x.offset+length > v.r.end {
		return nil, failf(TaxonMalformed, objfmt(x.ptr), "stream length %d extends past end of file", length)
	}
	return io.NewSectionReader(v.r.f, x.offset, length), nil
}

// decodeTransport applies the transport filters and reads all output under
// the decode budget.
func decodeTransport(xobj Value, transport []string, parms []Value, budget int64) (_ []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(*Failure); ok {
				err = f
				return
			}
			panic(r)
		}
	}()
	rd, err := rawStreamReader(xobj)
	if err != nil {
		return nil, err
	}
	for i, f := range transport {
		var p Value
		if i < len(parms) {
			p = parms[i]
		}
		rd = applyFilter(rd, f, p)
	}
	rd = newBudgetReader(rd, budget, "")
	data, err := io.ReadAll(rd)
	if err != nil {
		if f, ok := AsFailure(err); ok {
			return nil, f
		}
		return nil, failf(TaxonMalformed, "", "image stream decode: %v", err)
	}
	return data, nil
}

func decodeDCT(xobj Value, transport []string, parms []Value, cfg *Config, ref *ImageRef, locator string) error {
	data, err := decodeTransport(xobj, transport, parms, cfg.MaxDecodeOutputBytes)
	if err != nil {
		return err
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return failf(TaxonMalformed, locator, "DCT decode: %v", err)
	}
	b := img.Bounds()
	if int64(b.Dx()) != ref.Width || int64(b.Dy()) != ref.Height {
		return failf(TaxonMalformed, locator, "DCT image is %dx%d, declared %dx%d", b.Dx(), b.Dy(), ref.Width, ref.Height)
	}

	// JPEG output is always 8 bits per component; the declared depth must
	// agree or the declared geometry is a lie.
	if ref.BitsPerComponent != 8 {
		return failf(TaxonMalformed, locator, "DCT image declared %d bpc, decodes to 8", ref.BitsPerComponent)
	}

	switch im := img.(type) {
	case *image.Gray:
		if ref.ColorSpace != ColorSpaceGray {
			return failf(TaxonMalformed, locator, "DCT image is grayscale, declared %s", ref.ColorSpace)
		}
		ref.PixelData = packGray(im)
	case *image.YCbCr:
		if ref.ColorSpace != ColorSpaceRGB {
			return failf(TaxonMalformed, locator, "DCT image is color, declared %s", ref.ColorSpace)
		}
		ref.PixelData = packYCbCr(im)
	case *image.CMYK:
		if ref.ColorSpace != ColorSpaceCMYK {
			return failf(TaxonMalformed, locator, "DCT image is CMYK, declared %s", ref.ColorSpace)
		}
		ref.PixelData = packCMYK(im)
	default:
		return failf(TaxonMalformed, locator, "DCT image has unsupported pixel layout %T", img)
	}
	return nil
}

func decodeCCITT(xobj Value, transport []string, parms []Value, cfg *Config, ref *ImageRef, locator string) error {
	if ref.BitsPerComponent != 1 || ref.ColorSpace != ColorSpaceGray {
		return failf(TaxonMalformed, locator, "CCITT image must be 1-bit DeviceGray")
	}
	data, err := decodeTransport(xobj, transport, parms, cfg.MaxDecodeOutputBytes)
	if err != nil {
		return err
	}

	// The codec parameters ride on the final DecodeParms entry.
	var p Value
	if n := len(parms); n > 0 {
		p = parms[n-1]
	}
	k := p.Key("K").Int64()
	cols := p.Key("Columns").Int64()
	if cols == 0 {
		cols = 1728
	}
	if cols != ref.Width {
		return failf(TaxonMalformed, locator, "CCITT columns %d differ from declared width %d", cols, ref.Width)
	}
	sf := ccitt.Group3
	if k < 0 {
		sf = ccitt.Group4
	}
	opts := &ccitt.Options{Invert: !p.Key("BlackIs1").Bool(), Align: p.Key("EncodedByteAlign").Bool()}
	rd := ccitt.NewReader(bytes.NewReader(data), ccitt.MSB, sf, int(ref.Width), int(ref.Height), opts)
	decoded, err := io.ReadAll(newBudgetReader(rd, cfg.MaxDecodeOutputBytes, locator))
	if err != nil {
		if f, ok := AsFailure(err); ok {
			return f
		}
		return failf(TaxonMalformed, locator, "CCITT decode: %v", err)
	}
	if int64(len(decoded)) != ref.ExpectedByteLen() {
		return failf(TaxonMalformed, locator, "CCITT decoded length %d does not match declared geometry (want %d)",
			len(decoded), ref.ExpectedByteLen())
	}
	ref.PixelData = decoded
	return nil
}

func packGray(im *image.Gray) []byte {
	b := im.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := im.Pix[(y-b.Min.Y)*im.Stride : (y-b.Min.Y)*im.Stride+b.Dx()]
		out = append(out, row...)
	}
	return out
}

func packYCbCr(im *image.YCbCr) []byte {
	b := im.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := im.YCbCrAt(x, y)
			r, g, bb, _ := c.RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bb>>8))
		}
	}
	return out
}

func packCMYK(im *image.CMYK) []byte {
	b := im.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		i := (y - b.Min.Y) * im.Stride
		out = append(out, im.Pix[i:i+b.Dx()*4]...)
	}
	return out
}
