// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Reading of PDF tokens and objects from a raw byte stream.

package sanitize

import (
	"fmt"
	"io"
	"strconv"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// A token is a PDF token in the input stream, one of:
//
//	keyword, for a keyword like obj or endstream
//	name, for a name like /Helvetica
//	string, for a string constant
//	int64, for an integer
//	float64, for a real number
type token interface{}

// A name is a PDF name, without the leading slash.
type name string

// A keyword is a PDF keyword.
type keyword string

// A dict is a PDF dictionary, mapping name keys to objects.
type dict map[name]object

// An array is a PDF array of objects.
type array []object

// A stream is a PDF stream: a header dictionary plus the file offset of the
// raw (still encoded) stream payload.
type stream struct {
	hdr    dict
	ptr    objptr
	offset int64
}

// An objptr is a reference to an indirect object.
type objptr struct {
	id  uint32
	gen uint16
}

// An objdef is a top-level "id gen obj ... endobj" definition.
type objdef struct {
	ptr objptr
	obj object
}

// An object is a parsed PDF object: nil, bool, int64, float64, string, name,
// dict, array, stream, objptr, or objdef.
type object interface{}

// A buffer holds buffered input bytes from the PDF file.
type buffer struct {
	r           io.Reader
	buf         []byte
	pos         int
	offset      int64
	unread      []token
	allowEOF    bool
	allowObjptr bool
	allowStream bool
	eof         bool
}

// newBuffer returns a buffer reading from r, whose first byte corresponds to
// file offset pos.
func newBuffer(r io.Reader, pos int64) *buffer {
	return &buffer{
		r:           r,
		buf:         make([]byte, 0, 4096),
		offset:      pos,
		allowObjptr: true,
		allowStream: true,
	}
}

func (b *buffer) seek(pos int64) {
	b.offset = pos
	b.buf = b.buf[:0]
	b.pos = 0
	b.unread = b.unread[:0]
}

func (b *buffer) readByte() byte {
	if b.pos >= len(b.buf) {
		b.reload()
		if b.pos >= len(b.buf) {
			return '\n'
		}
	}
	c := b.buf[b.pos]
	b.pos++
	return c
}

func (b *buffer) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg)
	panic(&Failure{Taxon: TaxonMalformed, Detail: msg})
}

func (b *buffer) reload() bool {
	b.offset += int64(b.pos)
	b.buf = b.buf[:cap(b.buf)]
	b.pos = 0
	n, err := b.r.Read(b.buf)
	if n == 0 && err != nil {
		b.buf = b.buf[:0]
		if !b.eof {
			b.eof = true
			if !b.allowEOF || err != io.EOF {
				if f, ok := err.(*Failure); ok {
					panic(f)
				}
				b.errorf("malformed PDF: reading at offset %d: %v", b.offset, err)
			}
		}
		return false
	}
	b.buf = b.buf[:n]
	return true
}

func (b *buffer) seekForward(pos int64) {
	for b.offset+int64(len(b.buf)) <= pos {
		if !b.reload() {
			return
		}
	}
	b.pos = int(pos - b.offset)
}

func (b *buffer) readOffset() int64 {
	return b.offset + int64(b.pos)
}

func (b *buffer) unreadByte() {
	if b.pos > 0 {
		b.pos--
	}
}

func (b *buffer) unreadToken(t token) {
	b.unread = append(b.unread, t)
}

func (b *buffer) readToken() token {
	if n := len(b.unread); n > 0 {
		t := b.unread[n-1]
		b.unread = b.unread[:n-1]
		return t
	}

	// Find first non-space, non-comment byte.
	c := b.readByte()
	for {
		if isSpace(c) {
			if b.eof {
				return io.EOF
			}
			c = b.readByte()
		} else if c == '%' {
			for c != '\r' && c != '\n' {
				c = b.readByte()
			}
		} else {
			break
		}
	}

	switch c {
	case '<':
		if b.readByte() == '<' {
			return keyword("<<")
		}
		b.unreadByte()
		return b.readHexString()

	case '(':
		return b.readLiteralString()

	case '[', ']', '{', '}':
		return keyword(string(c))

	case '/':
		return b.readName()

	case '>':
		if b.readByte() == '>' {
			return keyword(">>")
		}
		b.unreadByte()
		b.errorf("malformed PDF: unexpected '>'")

	default:
		if isDelim(c) {
			b.errorf("malformed PDF: unexpected delimiter %#q", rune(c))
		}
		b.unreadByte()
		return b.readKeyword()
	}
	return nil
}

func (b *buffer) readHexString() token {
	tmp := []byte{}
	for {
	Loop:
		c := b.readByte()
		if c == '>' {
			break
		}
		if isSpace(c) {
			goto Loop
		}
	Loop2:
		c2 := b.readByte()
		if isSpace(c2) {
			goto Loop2
		}
		if c2 == '>' {
			// Odd digit count: trailing zero is implied.
			c2 = '0'
			b.unreadByte()
		}
		x := unhex(c)<<4 | unhex(c2)
		if x < 0 {
			b.errorf("malformed PDF: bad hex string digit")
		}
		tmp = append(tmp, byte(x))
	}
	return string(tmp)
}

func (b *buffer) readLiteralString() token {
	tmp := []byte{}
	depth := 1
Loop:
	for {
		c := b.readByte()
		switch c {
		default:
			tmp = append(tmp, c)
		case '(':
			depth++
			tmp = append(tmp, c)
		case ')':
			if depth--; depth == 0 {
				break Loop
			}
			tmp = append(tmp, c)
		case '\\':
			switch c = b.readByte(); c {
			default:
				b.errorf("malformed PDF: invalid escape sequence \\%c", c)
			case 'n':
				tmp = append(tmp, '\n')
			case 'r':
				tmp = append(tmp, '\r')
			case 'b':
				tmp = append(tmp, '\b')
			case 't':
				tmp = append(tmp, '\t')
			case 'f':
				tmp = append(tmp, '\f')
			case '(', ')', '\\':
				tmp = append(tmp, c)
			case '\r':
				if b.readByte() != '\n' {
					b.unreadByte()
				}
				fallthrough
			case '\n':
				// line continuation: no output
			case '0', '1', '2', '3', '4', '5', '6', '7':
				x := int(c - '0')
				for i := 0; i < 2; i++ {
					c = b.readByte()
					if c < '0' || c > '7' {
						b.unreadByte()
						break
					}
					x = x*8 + int(c-'0')
				}
				if x > 255 {
					b.errorf("malformed PDF: octal escape out of range")
				}
				tmp = append(tmp, byte(x))
			}
		}
	}
	return string(tmp)
}

func (b *buffer) readName() token {
	tmp := []byte{}
	for {
		c := b.readByte()
		if isDelim(c) || isSpace(c) {
			b.unreadByte()
			break
		}
		if c == '#' {
			x := unhex(b.readByte())<<4 | unhex(b.readByte())
			if x < 0 {
				b.errorf("malformed PDF: bad name escape")
			}
			tmp = append(tmp, byte(x))
			continue
		}
		tmp = append(tmp, c)
	}
	return name(string(tmp))
}

func (b *buffer) readKeyword() token {
	tmp := []byte{}
	for {
		c := b.readByte()
		if isDelim(c) || isSpace(c) {
			b.unreadByte()
			break
		}
		tmp = append(tmp, c)
	}
	s := string(tmp)
	switch {
	case s == "true":
		return true
	case s == "false":
		return false
	case isInteger(s):
		x, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			b.errorf("malformed PDF: invalid integer %q", s)
		}
		return x
	case isReal(s):
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			b.errorf("malformed PDF: invalid real %q", s)
		}
		return x
	}
	return keyword(s)
}

func isInteger(s string) bool {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || '9' < c {
			return false
		}
	}
	return true
}

func isReal(s string) bool {
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	if len(s) == 0 {
		return false
	}
	ndot := 0
	for _, c := range s {
		if c == '.' {
			ndot++
			continue
		}
		if c < '0' || '9' < c {
			return false
		}
	}
	return ndot == 1
}

// readObject reads a complete object: a bare value, an array or dictionary,
// a stream, an indirect reference, or a top-level object definition.
func (b *buffer) readObject() object {
	tok := b.readToken()
	return b.readObjectAfter(tok)
}

func (b *buffer) readObjectAfter(tok token) object {
	switch t := tok.(type) {
	case keyword:
		switch t {
		case "<<":
			return b.readDict()
		case "[":
			return b.readArray()
		case "null":
			return nil
		}
		b.errorf("malformed PDF: unexpected keyword %q", string(t))

	case string, bool, float64, name:
		return t

	case int64:
		// Might be an integer, a reference "n g R", or a definition "n g obj".
		if !b.allowObjptr {
			return t
		}
		t2 := b.readToken()
		g, ok := t2.(int64)
		if !ok || t < 0 || g < 0 || t >= 1<<32 || g >= 1<<16 {
			b.unreadToken(t2)
			return t
		}
		t3 := b.readToken()
		switch t3 {
		case keyword("R"):
			return objptr{uint32(t), uint16(g)}
		case keyword("obj"):
			obj := b.readObject()
			if _, ok := obj.(objdef); ok {
				b.errorf("malformed PDF: nested object definition")
			}
			// A stream leaves the buffer at its binary payload; the
			// endobj keyword is only reachable for non-stream objects.
			if _, ok := obj.(stream); !ok {
				tok := b.readToken()
				if tok != keyword("endobj") {
					b.unreadToken(tok)
				}
			}
			return objdef{objptr{uint32(t), uint16(g)}, obj}
		}
		b.unreadToken(t3)
		b.unreadToken(t2)
		return t
	}
	b.errorf("malformed PDF: unexpected token %T %v", tok, tok)
	return nil
}

func (b *buffer) readArray() object {
	var x array
	for {
		tok := b.readToken()
		if tok == nil || tok == keyword("]") {
			break
		}
		x = append(x, b.readObjectAfter(tok))
	}
	return x
}

func (b *buffer) readDict() object {
	x := make(dict)
	for {
		tok := b.readToken()
		if tok == nil || tok == keyword(">>") {
			break
		}
		n, ok := tok.(name)
		if !ok {
			b.errorf("malformed PDF: dictionary key is %T, not name", tok)
		}
		x[n] = b.readObject()
	}

	if !b.allowStream {
		return x
	}
	tok := b.readToken()
	if tok != keyword("stream") {
		b.unreadToken(tok)
		return x
	}

	// The stream keyword must be followed by \r\n or \n; the payload starts
	// right after.
	switch b.readByte() {
	case '\r':
		if b.readByte() != '\n' {
			b.unreadByte()
		}
	case '\n':
		// ok
	default:
		b.errorf("malformed PDF: stream keyword not followed by newline")
	}

	return stream{x, objptr{}, b.readOffset()}
}

func isSpace(c byte) bool {
	switch c {
	case '\x00', '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelim(c byte) bool {
	switch c {
	case '<', '>', '(', ')', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func unhex(c byte) int {
	switch {
	case '0' <= c && c <= '9':
		return int(c - '0')
	case 'a' <= c && c <= 'f':
		return int(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}

// A Stack is an operand stack used while scanning a content stream.
type Stack struct {
	stack []Value
}

// Len returns the number of operands on the stack.
func (stk *Stack) Len() int {
	return len(stk.stack)
}

// Push pushes v.
func (stk *Stack) Push(v Value) {
	stk.stack = append(stk.stack, v)
}

// Pop pops the top operand; popping an empty stack yields a null Value.
func (stk *Stack) Pop() Value {
	n := len(stk.stack)
	if n == 0 {
		return Value{}
	}
	v := stk.stack[n-1]
	stk.stack[n-1] = Value{}
	stk.stack = stk.stack[:n-1]
	return v
}

func newDict() Value {
	return Value{nil, objptr{}, make(dict)}
}

// Interpret scans the decoded content of strm, pushing operands onto a stack
// and calling do for each operator keyword. Indirect references and streams
// are not assembled here: "n g R" arrives as two numbers and the operator R,
// and a stream keyword arrives as the operator "stream", for do to refuse.
func Interpret(strm Value, do func(stk *Stack, op string)) {
	rd := strm.Reader()
	defer rd.Close()
	b := newBuffer(rd, 0)
	b.allowEOF = true
	b.allowObjptr = false
	b.allowStream = false
	var stk Stack
	for {
		tok := b.readToken()
		if tok == io.EOF {
			break
		}
		if kw, ok := tok.(keyword); ok {
			switch kw {
			case "null", "[", "]", "<<", ">>":
				b.unreadToken(tok)
				stk.Push(Value{nil, objptr{}, b.readObject()})
				continue
			default:
				do(&stk, string(kw))
				stk.stack = stk.stack[:0]
				continue
			}
		}
		b.unreadToken(tok)
		obj := b.readObject()
		stk.Push(Value{nil, objptr{}, obj})
	}
}
