// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

// Threat scanning over the document catalog and page dictionaries. The scan
// names every executable or interactive construct the whitelist will strip;
// identifying-only content (the information dictionary, XMP metadata) is
// discarded without being counted as a threat.

package sanitize

import (
	"fmt"

	"github.com/loukasr-byte/Project2-PDF-Sanitise/logger"
)

// scanCatalog inspects the document catalog for constructs on the
// block-list and reports one Threat per finding.
func scanCatalog(r *Reader) []Threat {
	var threats []Threat
	root := r.Trailer().Key("Root")
	if root.Kind() != Dict {
		return nil
	}

	if oa := root.Key("OpenAction"); !oa.IsNull() {
		kind := "OpenAction"
		if actionInvokesJavaScript(oa) {
			kind = "OpenAction/JavaScript"
		}
		threats = append(threats, Threat{Kind: kind, Severity: SeverityCritical, Locator: "/Root/OpenAction"})
	}
	if aa := root.Key("AA"); !aa.IsNull() {
		threats = append(threats, Threat{Kind: "AdditionalActions", Severity: SeverityCritical, Locator: "/Root/AA"})
	}
	if af := root.Key("AcroForm"); !af.IsNull() {
		threats = append(threats, Threat{Kind: "AcroForm", Severity: SeverityHigh, Locator: "/Root/AcroForm"})
	}
	names := root.Key("Names")
	if js := names.Key("JavaScript"); !js.IsNull() {
		threats = append(threats, Threat{Kind: "JavaScript", Severity: SeverityCritical, Locator: "/Root/Names/JavaScript"})
	}
	if ef := names.Key("EmbeddedFiles"); !ef.IsNull() {
		threats = append(threats, Threat{Kind: "EmbeddedFile", Severity: SeverityCritical, Locator: "/Root/Names/EmbeddedFiles"})
	}
	if oc := root.Key("OCProperties"); !oc.IsNull() {
		threats = append(threats, Threat{Kind: "OptionalContent", Severity: SeverityLow, Locator: "/Root/OCProperties"})
	}

	if len(threats) > 0 {
		logger.Debug(fmt.Sprintf("catalog scan: %d threats found", len(threats)), true)
	}
	return threats
}

// scanPage inspects one page dictionary for interactive constructs.
func scanPage(p PageValue, pageNum int) []Threat {
	var threats []Threat
	loc := fmt.Sprintf("page %d", pageNum)

	if aa := p.V.Key("AA"); !aa.IsNull() {
		threats = append(threats, Threat{Kind: "AdditionalActions", Severity: SeverityCritical, Locator: loc + " /AA"})
	}
	annots := p.V.Key("Annots")
	for i := 0; i < annots.Len(); i++ {
		an := annots.Index(i)
		sub := an.Key("Subtype").Name()
		sev := SeverityMedium
		kind := "Annotation"
		if sub != "" {
			kind = "Annotation/" + sub
		}
		// Action-bearing annotations escalate.
		if a := an.Key("A"); !a.IsNull() {
			sev = SeverityHigh
			if actionInvokesJavaScript(a) {
				kind = "Annotation/JavaScript"
				sev = SeverityCritical
			} else if s := a.Key("S").Name(); s == "Launch" || s == "SubmitForm" || s == "GoToR" {
				kind = "Annotation/" + s
				sev = SeverityCritical
			}
		}
		if sub == "RichMedia" || sub == "Movie" || sub == "Sound" || sub == "FileAttachment" {
			sev = SeverityCritical
		}
		threats = append(threats, Threat{Kind: kind, Severity: sev, Locator: fmt.Sprintf("%s annot %d", loc, i)})
	}
	return threats
}

// actionInvokesJavaScript reports whether an action value is, or chains
// into, a JavaScript action.
func actionInvokesJavaScript(a Value) bool {
	seen := 0
	for !a.IsNull() {
		if seen++; seen > 16 {
			return false
		}
		if a.Key("S").Name() == "JavaScript" {
			return true
		}
		if _, ok := a.RawKey("JS"); ok {
			return true
		}
		a = a.Key("Next")
	}
	return false
}
