// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"fmt"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// A PageValue represents a single page in a PDF file.
// The methods interpret a Page dictionary stored in V.
type PageValue struct {
	V Value
}

// Page returns the page for the given page number.
// Page numbers are indexed starting at 1, not 0.
// If the page is not found, Page returns a PageValue with p.V.IsNull().
func (r *Reader) Page(num int) PageValue {
	logger.Debug(fmt.Sprintf("Reading Page %d", num), true)
	num-- // now 0-indexed
	page := r.Trailer().Key("Root").Key("Pages")
	depth := 0
Search:
	for page.Key("Type").Name() == "Pages" {
		if depth++; depth > 64 {
			panic(failf(TaxonMalformed, "", "page tree deeper than 64 levels"))
		}
		count := int(page.Key("Count").Int64())
		if count < num {
			return PageValue{}
		}
		kids := page.Key("Kids")
		for i := 0; i < kids.Len(); i++ {
			kid := kids.Index(i)
			if kid.Key("Type").Name() == "Pages" {
				c := int(kid.Key("Count").Int64())
				if num < c {
					page = kid
					continue Search
				}
				num -= c
				continue
			}
			if kid.Key("Type").Name() == "Page" {
				if num == 0 {
					return PageValue{kid}
				}
				num--
			}
		}
		break
	}
	return PageValue{}
}

// NumPage returns the number of pages in the PDF file.
func (r *Reader) NumPage() int {
	return int(r.Trailer().Key("Root").Key("Pages").Key("Count").Int64())
}

// findInherited walks the /Parent chain looking for an inheritable key.
func (p PageValue) findInherited(key string) Value {
	depth := 0
	for v := p.V; !v.IsNull(); v = v.Key("Parent") {
		if depth++; depth > 64 {
			panic(failf(TaxonMalformed, "", "parent chain deeper than 64 levels"))
		}
		if r := v.Key(key); !r.IsNull() {
			return r
		}
	}
	return Value{}
}

// MediaBox returns the page's effective /MediaBox, inherited if necessary.
func (p PageValue) MediaBox() Value {
	return p.findInherited("MediaBox")
}

// CropBox returns the page's effective /CropBox, inherited if necessary.
func (p PageValue) CropBox() Value {
	return p.findInherited("CropBox")
}

// Resources returns the resources dictionary associated with the page.
func (p PageValue) Resources() Value {
	logger.Debug("Resources: fetching /Resources for page")
	return p.findInherited("Resources")
}

// Fonts returns the local names in the page's /Font resource dictionary.
func (p PageValue) Fonts() []string {
	return p.Resources().Key("Font").Keys()
}

// Font returns the font dictionary with the given local name.
func (p PageValue) Font(name string) Value {
	return p.Resources().Key("Font").Key(name)
}

// XObjects returns the local names in the page's /XObject dictionary.
func (p PageValue) XObjects() []string {
	return p.Resources().Key("XObject").Keys()
}

// XObject returns the XObject stream with the given local name.
func (p PageValue) XObject(name string) Value {
	return p.Resources().Key("XObject").Key(name)
}

// rectFromValue converts a 4-element numeric array into a normalized
// Rectangle with the lower-left corner first.
func rectFromValue(v Value) (Rectangle, error) {
	if v.Kind() != Array || v.Len() != 4 {
		return Rectangle{}, fmt.Errorf("box is not a 4-element array")
	}
	nums := [4]float64{}
	for i := 0; i < 4; i++ {
		e := v.Index(i)
		if e.Kind() != Integer && e.Kind() != Real {
			return Rectangle{}, fmt.Errorf("box element %d is not numeric", i)
		}
		nums[i] = e.Float64()
	}
	r := Rectangle{X0: nums[0], Y0: nums[1], X1: nums[2], Y1: nums[3]}
	if r.X1 < r.X0 {
		r.X0, r.X1 = r.X1, r.X0
	}
	if r.Y1 < r.Y0 {
		r.Y0, r.Y1 = r.Y1, r.Y0
	}
	return r, nil
}
