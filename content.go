// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Content-stream interpretation against the operator allow-list. The
// interpreter is constructive: every admitted operator becomes a typed Op in
// the IR, and the first token outside the allow-list aborts the page. It
// never guesses at an unknown operator's arity or intent.

package sanitize

import (
	"fmt"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// contentState carries interpretation state across the (possibly several)
// streams making up one page's /Contents.
type contentState struct {
	ops       []Op
	curFont   string
	curSize   float64
	fontOK    bool
	maxOps    int64
	fonts     map[string]FontRef
	images    map[string]ImageRef
	dropped   map[string]bool // resources dropped under the lenient policy
	pageLoc   string
	skipCount int
}

// parseContent interprets every content stream of page into allow-listed
// ops. fonts and images are the already-admitted resource tables; dropped
// names the resources the lenient policy stripped, whose uses are skipped
// rather than failed.
func parseContent(page PageValue, fonts map[string]FontRef, images map[string]ImageRef, dropped map[string]bool, cfg *Config, pageNum int) (ops []Op, err error) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(*Failure); ok {
				ops, err = nil, f
				return
			}
			panic(r)
		}
	}()

	st := &contentState{
		maxOps:  cfg.MaxOpsPerPage,
		fonts:   fonts,
		images:  images,
		dropped: dropped,
		pageLoc: fmt.Sprintf("page %d", pageNum),
	}

	contents := page.V.Key("Contents")
	switch contents.Kind() {
	case Null:
		return nil, nil
	case Stream:
		st.interpret(contents)
	case Array:
		for i := 0; i < contents.Len(); i++ {
			part := contents.Index(i)
			if part.Kind() != Stream {
				return nil, failf(TaxonMalformed, st.pageLoc, "/Contents element %d is not a stream", i)
			}
			st.interpret(part)
		}
	default:
		return nil, failf(TaxonMalformed, st.pageLoc, "/Contents is %v, not stream or array", contents.Kind())
	}

	if st.skipCount > 0 {
		logger.Debug(fmt.Sprintf("%s: %d ops referencing dropped resources skipped", st.pageLoc, st.skipCount), true)
	}
	return st.ops, nil
}

func (st *contentState) emit(op Op) {
	if int64(len(st.ops)) >= st.maxOps {
		panic(failf(TaxonLimitExceeded, st.pageLoc, "op count exceeds %d", st.maxOps))
	}
	st.ops = append(st.ops, op)
}

func (st *contentState) interpret(strm Value) {
	Interpret(strm, func(stk *Stack, op string) {
		n := stk.Len()
		args := make([]Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		st.operator(op, args)
	})
}

// nums checks that args are exactly n numeric operands and converts them.
func (st *contentState) nums(op string, args []Value, n int) []float64 {
	if len(args) != n {
		panic(failf(TaxonMalformed, st.pageLoc, "operator %s wants %d operands, has %d", op, n, len(args)))
	}
	out := make([]float64, n)
	for i, a := range args {
		if a.Kind() != Integer && a.Kind() != Real {
			panic(failf(TaxonMalformed, st.pageLoc, "operator %s operand %d is not numeric", op, i))
		}
		out[i] = a.Float64()
	}
	return out
}

func (st *contentState) operator(op string, args []Value) {
	switch op {
	default:
		// The allow-list is exhaustive: an unknown operator rejects the
		// page rather than being dropped.
		logger.Error(fmt.Sprintf("%s: operator %q not allowed", st.pageLoc, op))
		panic(failf(TaxonDisallowedConstruct, st.pageLoc, "content operator %q not allowed", op))

	case "BT":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpTextBegin})
	case "ET":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpTextEnd})
	case "Td":
		st.emit(Op{Kind: OpTextMoveRel, Operands: st.nums(op, args, 2)})
	case "Tm":
		st.emit(Op{Kind: OpSetTextMatrix, Operands: st.nums(op, args, 6)})
	case "T*":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpTextMoveNext})

	case "Tf":
		// Folded into the next show op rather than emitted: the IR's show
		// operations are self-contained.
		if len(args) != 2 {
			panic(failf(TaxonMalformed, st.pageLoc, "operator Tf wants 2 operands, has %d", len(args)))
		}
		fname := args[0].Name()
		if fname == "" {
			panic(failf(TaxonMalformed, st.pageLoc, "operator Tf without font name"))
		}
		size := args[1].Float64()
		if size <= 0 {
			panic(failf(TaxonMalformed, st.pageLoc, "operator Tf with size %v", size))
		}
		if _, ok := st.fonts[fname]; ok {
			st.curFont, st.curSize, st.fontOK = fname, size, true
		} else if st.dropped[fname] {
			st.curFont, st.curSize, st.fontOK = fname, size, false
		} else {
			panic(failf(TaxonMalformed, st.pageLoc, "operator Tf references undefined font %q", fname))
		}

	case "Tj":
		if len(args) != 1 || args[0].Kind() != String {
			panic(failf(TaxonMalformed, st.pageLoc, "operator Tj wants one string operand"))
		}
		st.showText([]byte(args[0].RawString()))
	case "'":
		if len(args) != 1 || args[0].Kind() != String {
			panic(failf(TaxonMalformed, st.pageLoc, "operator ' wants one string operand"))
		}
		st.emit(Op{Kind: OpTextMoveNext})
		st.showText([]byte(args[0].RawString()))
	case "\"":
		// The word/char spacing operands have no allow-listed carrier in
		// the IR; the move and the glyphs are preserved.
		if len(args) != 3 || args[2].Kind() != String {
			panic(failf(TaxonMalformed, st.pageLoc, "operator \" wants aw ac string"))
		}
		st.nums(op, args[:2], 2)
		st.emit(Op{Kind: OpTextMoveNext})
		st.showText([]byte(args[2].RawString()))
	case "TJ":
		if len(args) != 1 || args[0].Kind() != Array {
			panic(failf(TaxonMalformed, st.pageLoc, "operator TJ wants one array operand"))
		}
		st.showTextArray(args[0])

	case "m":
		st.emit(Op{Kind: OpMoveTo, Operands: st.nums(op, args, 2)})
	case "l":
		st.emit(Op{Kind: OpLineTo, Operands: st.nums(op, args, 2)})
	case "c":
		st.emit(Op{Kind: OpCurveTo, Operands: st.nums(op, args, 6)})
	case "h":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpClosePath})
	case "re":
		st.emit(Op{Kind: OpRect, Operands: st.nums(op, args, 4)})
	case "f":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpFill})
	case "S":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpStroke})
	case "n":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpEndPath})

	case "q":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpSave})
	case "Q":
		st.nums(op, args, 0)
		st.emit(Op{Kind: OpRestore})

	case "Do":
		if len(args) != 1 || args[0].Kind() != Name {
			panic(failf(TaxonMalformed, st.pageLoc, "operator Do wants one name operand"))
		}
		xname := args[0].Name()
		if _, ok := st.images[xname]; ok {
			st.emit(Op{Kind: OpInvokeXObject, Name: xname})
			return
		}
		if st.dropped[xname] {
			st.skipCount++
			return
		}
		panic(failf(TaxonMalformed, st.pageLoc, "operator Do references undefined XObject %q", xname))
	}
}

func (st *contentState) showText(text []byte) {
	if st.curFont == "" {
		panic(failf(TaxonMalformed, st.pageLoc, "text shown before any font was selected"))
	}
	if !st.fontOK {
		st.skipCount++
		return
	}
	st.emit(Op{Kind: OpShowText, Font: st.curFont, FontSize: st.curSize, Text: text})
}

func (st *contentState) showTextArray(arr Value) {
	if st.curFont == "" {
		panic(failf(TaxonMalformed, st.pageLoc, "text shown before any font was selected"))
	}
	if !st.fontOK {
		st.skipCount++
		return
	}
	items := make([]TextItem, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		e := arr.Index(i)
		switch e.Kind() {
		case String:
			items = append(items, TextItem{Text: []byte(e.RawString())})
		case Integer, Real:
			adj := e.Float64()
			items = append(items, TextItem{Adjust: &adj})
		default:
			panic(failf(TaxonMalformed, st.pageLoc, "TJ element %d is %v, not string or number", i, e.Kind()))
		}
	}
	st.emit(Op{Kind: OpShowTextArray, Font: st.curFont, FontSize: st.curSize, Items: items})
}
