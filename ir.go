// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// The intermediate representation is the only artifact that crosses the
// isolation boundary from worker to controller. It is a tree, never a graph:
// each page owns its resource tables outright, so the whole structure
// serializes to JSON without reference bookkeeping. Numeric fields are typed
// float64/int64, byte buffers travel base64-encoded.

package sanitize

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// ParserVersion is stamped into every Document the parser emits.
const ParserVersion = "stz-parser/1.0"

// OpKind enumerates the admissible content-stream operations. The set is
// closed: validation rejects any document carrying a kind outside it.
type OpKind string

const (
	OpTextBegin     OpKind = "text_begin"
	OpTextEnd       OpKind = "text_end"
	OpTextMoveAbs   OpKind = "text_move_abs"
	OpTextMoveRel   OpKind = "text_move_rel"
	OpTextMoveNext  OpKind = "text_move_next"
	OpSetTextMatrix OpKind = "set_text_matrix"
	OpShowText      OpKind = "show_text"
	OpShowTextArray OpKind = "show_text_array"
	OpMoveTo        OpKind = "move_to"
	OpLineTo        OpKind = "line_to"
	OpCurveTo       OpKind = "curve_to"
	OpClosePath     OpKind = "close_path"
	OpRect          OpKind = "rect"
	OpFill          OpKind = "fill"
	OpStroke        OpKind = "stroke"
	OpEndPath       OpKind = "end_path"
	OpSave          OpKind = "save_gstate"
	OpRestore       OpKind = "restore_gstate"
	OpInvokeXObject OpKind = "invoke_xobject"
)

// operandCount gives the exact numeric-operand arity per kind; -1 marks the
// kinds whose payload is not numeric operands.
var operandCount = map[OpKind]int{
	OpTextBegin:     0,
	OpTextEnd:       0,
	OpTextMoveAbs:   2,
	OpTextMoveRel:   2,
	OpTextMoveNext:  0,
	OpSetTextMatrix: 6,
	OpShowText:      -1,
	OpShowTextArray: -1,
	OpMoveTo:        2,
	OpLineTo:        2,
	OpCurveTo:       6,
	OpClosePath:     0,
	OpRect:          4,
	OpFill:          0,
	OpStroke:        0,
	OpEndPath:       0,
	OpSave:          0,
	OpRestore:       0,
	OpInvokeXObject: -1,
}

// A TextItem is one element of a show_text_array payload: either an encoded
// string or a position adjustment in thousandths of a text-space unit.
type TextItem struct {
	Text   []byte   `json:"text,omitempty"`
	Adjust *float64 `json:"adjust,omitempty"`
}

// An Op is one validated content-stream operation. Show ops carry the font
// local-name and size active at the point of emission so every run of text
// is self-contained; Invoke carries the image local-name.
type Op struct {
	Kind     OpKind     `json:"kind"`
	Operands []float64  `json:"operands,omitempty"`
	Font     string     `json:"font,omitempty"`
	FontSize float64    `json:"font_size,omitempty"`
	Text     []byte     `json:"text,omitempty"`
	Items    []TextItem `json:"items,omitempty"`
	Name     string     `json:"name,omitempty"`
}

// A Rectangle is a media/crop box in default user space.
type Rectangle struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func (r Rectangle) Width() float64  { return r.X1 - r.X0 }
func (r Rectangle) Height() float64 { return r.Y1 - r.Y0 }

// A FontRef names one of the standard-14 base fonts by canonical name.
type FontRef struct {
	BaseFont string `json:"base_font" validate:"required"`
}

// Admissible image color spaces.
const (
	ColorSpaceGray = "DeviceGray"
	ColorSpaceRGB  = "DeviceRGB"
	ColorSpaceCMYK = "DeviceCMYK"
)

// An ImageRef holds a fully decoded raster image. PixelData is the raw,
// filter-free sample buffer; its length already passed the decode-and-measure
// check against Width×Height×components×BitsPerComponent.
type ImageRef struct {
	Width            int64    `json:"width" validate:"min=1"`
	Height           int64    `json:"height" validate:"min=1"`
	ColorSpace       string   `json:"color_space" validate:"oneof=DeviceGray DeviceRGB DeviceCMYK"`
	BitsPerComponent int64    `json:"bits_per_component" validate:"oneof=1 2 4 8 16"`
	FilterChain      []string `json:"filter_chain,omitempty"`
	PixelData        []byte   `json:"pixel_data"`
}

// Components reports the samples-per-pixel for the image's color space.
func (img *ImageRef) Components() int64 {
	switch img.ColorSpace {
	case ColorSpaceGray:
		return 1
	case ColorSpaceRGB:
		return 3
	case ColorSpaceCMYK:
		return 4
	}
	return 0
}

// ExpectedByteLen is the byte length PixelData must have: rows are padded to
// byte boundaries as in PDF sample streams.
func (img *ImageRef) ExpectedByteLen() int64 {
	rowBits := img.Width * img.Components() * img.BitsPerComponent
	return ((rowBits + 7) / 8) * img.Height
}

// A Page owns its geometry, operation sequence, and resource tables. Resource
// tables are duplicated per page rather than shared; the IR admits no cycles.
type Page struct {
	MediaBox Rectangle           `json:"media_box"`
	CropBox  *Rectangle          `json:"crop_box,omitempty"`
	Ops      []Op                `json:"content_ops"`
	Fonts    map[string]FontRef  `json:"fonts,omitempty" validate:"dive"`
	Images   map[string]ImageRef `json:"images,omitempty" validate:"dive"`
}

// A Document is the root of the IR.
type Document struct {
	ParserVersion string `json:"parser_version" validate:"required"`
	SourceSHA256  string `json:"source_sha256" validate:"required,len=64,hexadecimal"`
	Pages         []Page `json:"pages" validate:"dive"`
}

// IRLimits bounds invariant validation. The zero value is unusable; derive
// from a Config.
type IRLimits struct {
	MaxPages       int64
	MaxOpsPerPage  int64
	MaxImagePixels int64
	MaxImageBytes  int64
	MaxGStateDepth int64
	MaxPageArea    float64
}

var irValidate = validator.New()

// Validate checks the schema and every structural invariant of the IR:
// resolvable resource references, standard-14 fonts only, finite bounded
// geometry, the closed op set, measured image buffers, and balanced
// state nesting. It is called by the
// worker before the IR is written and again by the controller on receipt;
// a compromised worker cannot smuggle an out-of-contract document past the
// second check.
func (d *Document) Validate(limits IRLimits) error {
	if err := irValidate.Struct(d); err != nil {
		return failf(TaxonIRInvalid, "", "schema: %v", err)
	}
	if int64(len(d.Pages)) > limits.MaxPages {
		return failf(TaxonIRInvalid, "", "page count %d exceeds %d", len(d.Pages), limits.MaxPages)
	}
	for i := range d.Pages {
		if err := d.Pages[i].validate(i, limits); err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) validate(index int, limits IRLimits) error {
	loc := fmt.Sprintf("page %d", index+1)

	// Finite, well-ordered geometry within the area bound.
	boxes := []*Rectangle{&p.MediaBox}
	if p.CropBox != nil {
		boxes = append(boxes, p.CropBox)
	}
	for _, b := range boxes {
		for _, v := range []float64{b.X0, b.Y0, b.X1, b.Y1} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return failf(TaxonIRInvalid, loc, "non-finite box coordinate")
			}
		}
		if b.X1 <= b.X0 || b.Y1 <= b.Y0 {
			return failf(TaxonIRInvalid, loc, "degenerate box [%g %g %g %g]", b.X0, b.Y0, b.X1, b.Y1)
		}
		if b.Width()*b.Height() > limits.MaxPageArea {
			return failf(TaxonIRInvalid, loc, "page area %g exceeds %g", b.Width()*b.Height(), limits.MaxPageArea)
		}
	}

	if int64(len(p.Ops)) > limits.MaxOpsPerPage {
		return failf(TaxonIRInvalid, loc, "op count %d exceeds %d", len(p.Ops), limits.MaxOpsPerPage)
	}

	// Fonts must carry canonical standard-14 names.
	for name, f := range p.Fonts {
		if canon, ok := CanonicalBaseFont(f.BaseFont); !ok || canon != f.BaseFont {
			return failf(TaxonIRInvalid, loc, "font %q is not a canonical standard-14 name: %q", name, f.BaseFont)
		}
	}

	// Every image's claimed dimensions must match its buffer.
	for name, img := range p.Images {
		if img.Components() == 0 {
			return failf(TaxonIRInvalid, loc, "image %q has unknown color space %q", name, img.ColorSpace)
		}
		if img.Width*img.Height > limits.MaxImagePixels {
			return failf(TaxonIRInvalid, loc, "image %q pixel count exceeds %d", name, limits.MaxImagePixels)
		}
		if int64(len(img.PixelData)) > limits.MaxImageBytes {
			return failf(TaxonIRInvalid, loc, "image %q buffer exceeds %d bytes", name, limits.MaxImageBytes)
		}
		if want := img.ExpectedByteLen(); int64(len(img.PixelData)) != want {
			return failf(TaxonIRInvalid, loc, "image %q decoded length %d, want %d", name, len(img.PixelData), want)
		}
	}

	// Op-by-op structural checks: closed kind set, arity, resolvable
	// references, balanced nesting.
	var gdepth, textDepth int64
	for oi, op := range p.Ops {
		oploc := fmt.Sprintf("%s op %d", loc, oi)
		arity, known := operandCount[op.Kind]
		if !known {
			return failf(TaxonIRInvalid, oploc, "unknown op kind %q", op.Kind)
		}
		if arity >= 0 && len(op.Operands) != arity {
			return failf(TaxonIRInvalid, oploc, "%s wants %d operands, has %d", op.Kind, arity, len(op.Operands))
		}
		for _, v := range op.Operands {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return failf(TaxonIRInvalid, oploc, "non-finite operand")
			}
		}
		switch op.Kind {
		case OpSave:
			gdepth++
			if gdepth > limits.MaxGStateDepth {
				return failf(TaxonIRInvalid, oploc, "gstate depth exceeds %d", limits.MaxGStateDepth)
			}
		case OpRestore:
			gdepth--
			if gdepth < 0 {
				return failf(TaxonIRInvalid, oploc, "restore without matching save")
			}
		case OpTextBegin:
			textDepth++
			if textDepth > 1 {
				return failf(TaxonIRInvalid, oploc, "nested text object")
			}
		case OpTextEnd:
			textDepth--
			if textDepth < 0 {
				return failf(TaxonIRInvalid, oploc, "text end without begin")
			}
		case OpShowText, OpShowTextArray:
			if op.Font == "" {
				return failf(TaxonIRInvalid, oploc, "show op without font")
			}
			if _, ok := p.Fonts[op.Font]; !ok {
				return failf(TaxonIRInvalid, oploc, "show op references undefined font %q", op.Font)
			}
			if op.FontSize <= 0 || math.IsNaN(op.FontSize) || math.IsInf(op.FontSize, 0) {
				return failf(TaxonIRInvalid, oploc, "show op with invalid font size")
			}
			if op.Kind == OpShowTextArray {
				for _, it := range op.Items {
					if it.Text != nil && it.Adjust != nil {
						return failf(TaxonIRInvalid, oploc, "text item with both payloads")
					}
					if it.Adjust != nil && (math.IsNaN(*it.Adjust) || math.IsInf(*it.Adjust, 0)) {
						return failf(TaxonIRInvalid, oploc, "non-finite adjust")
					}
				}
			}
		case OpInvokeXObject:
			if op.Name == "" {
				return failf(TaxonIRInvalid, oploc, "invoke without name")
			}
			if _, ok := p.Images[op.Name]; !ok {
				return failf(TaxonIRInvalid, oploc, "invoke references undefined image %q", op.Name)
			}
		}
	}
	if gdepth != 0 {
		return failf(TaxonIRInvalid, loc, "unbalanced graphics state: depth %d at end of page", gdepth)
	}
	if textDepth != 0 {
		return failf(TaxonIRInvalid, loc, "unbalanced text object")
	}
	return nil
}
