// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import "strings"

// The fourteen base fonts every conforming reader supports without an
// embedded font program. Only these survive sanitization; anything else in
// a page's /Font dictionary is a disallowed construct.
var standard14 = map[string]bool{
	"Courier":               true,
	"Courier-Bold":          true,
	"Courier-Oblique":       true,
	"Courier-BoldOblique":   true,
	"Helvetica":             true,
	"Helvetica-Bold":        true,
	"Helvetica-Oblique":     true,
	"Helvetica-BoldOblique": true,
	"Times-Roman":           true,
	"Times-Bold":            true,
	"Times-Italic":          true,
	"Times-BoldItalic":      true,
	"Symbol":                true,
	"ZapfDingbats":          true,
}

// Aliases some producers emit for the base fonts (Arial for Helvetica and
// friends). Mapping them keeps common office output renderable without
// admitting any font program.
var standard14Aliases = map[string]string{
	"Arial":                 "Helvetica",
	"Arial-Bold":            "Helvetica-Bold",
	"Arial,Bold":            "Helvetica-Bold",
	"Arial-Italic":          "Helvetica-Oblique",
	"Arial-BoldItalic":      "Helvetica-BoldOblique",
	"ArialMT":               "Helvetica",
	"Arial-BoldMT":          "Helvetica-Bold",
	"CourierNew":            "Courier",
	"CourierNewPSMT":        "Courier",
	"TimesNewRoman":         "Times-Roman",
	"TimesNewRomanPSMT":     "Times-Roman",
	"TimesNewRomanPS-Bold":  "Times-Bold",
	"Times":                 "Times-Roman",
}

// CanonicalBaseFont reports the standard-14 canonical name for basefont,
// stripping any subset tag ("ABCDEF+Helvetica"). ok is false when the font
// is not one of the fourteen.
func CanonicalBaseFont(basefont string) (string, bool) {
	if i := strings.Index(basefont, "+"); i == 6 {
		basefont = basefont[i+1:]
	}
	if standard14[basefont] {
		return basefont, true
	}
	if canon, ok := standard14Aliases[basefont]; ok {
		return canon, true
	}
	return "", false
}
