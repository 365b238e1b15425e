// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package sanitize

import (
	"errors"
	"fmt"
)

// A Taxon identifies one failure class of the error taxonomy. Every failing
// job maps to exactly one taxon; no failure is ever silently downgraded to a
// weaker one.
type Taxon string

const (
	// Input rejection — the file never reached the parser proper.
	TaxonNotAPDF            Taxon = "NOT_A_PDF"
	TaxonTruncated          Taxon = "TRUNCATED"
	TaxonUnsupportedVersion Taxon = "UNSUPPORTED_VERSION"
	TaxonEncrypted          Taxon = "ENCRYPTED"
	TaxonOversize           Taxon = "OVERSIZE"
	TaxonSourceNotReadonly  Taxon = "SOURCE_NOT_READONLY"

	// Content rejection — the parser refused a construct.
	TaxonDisallowedConstruct  Taxon = "DISALLOWED_CONSTRUCT"
	TaxonMalformed            Taxon = "MALFORMED"
	TaxonLimitExceeded        Taxon = "LIMIT_EXCEEDED"
	TaxonDecompressionBudget  Taxon = "DECOMPRESSION_BUDGET_EXCEEDED"

	// Isolation failure — treated as a probable attack.
	TaxonChildCrash Taxon = "CHILD_CRASH"
	TaxonTimeout    Taxon = "TIMEOUT"
	TaxonIRInvalid  Taxon = "IR_INVALID"

	// Reconstruction failure — a defect, never an attack.
	TaxonEmptyDocument       Taxon = "EMPTY_DOCUMENT"
	TaxonInvariantViolation  Taxon = "INVARIANT_VIOLATION"
	TaxonOutputExceedsBudget Taxon = "OUTPUT_EXCEEDS_BUDGET"

	// System failure — infrastructure, possibly retriable by the submitter.
	TaxonIO               Taxon = "IO"
	TaxonAuditWriteFailed Taxon = "AUDIT_WRITE_FAILED"

	// Controller dispositions.
	TaxonCancelled       Taxon = "CANCELLED"
	TaxonCompromiseAbort Taxon = "COMPROMISE_ABORT"
)

// A Failure is a typed terminal outcome. Locator points at the offending
// construct (object reference, page number, resource name); Detail is the
// one-line human explanation carried into the audit record.
type Failure struct {
	Taxon   Taxon  `json:"taxon"`
	Locator string `json:"locator,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func (f *Failure) Error() string {
	if f.Locator != "" {
		return fmt.Sprintf("%s(%s): %s", f.Taxon, f.Locator, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Taxon, f.Detail)
}

func failf(taxon Taxon, locator, format string, args ...interface{}) *Failure {
	return &Failure{Taxon: taxon, Locator: locator, Detail: fmt.Sprintf(format, args...)}
}

// AsFailure unwraps err into a *Failure if one is in its chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ToFailure coerces an arbitrary error into a Failure, classifying anything
// untyped under the given fallback taxon.
func ToFailure(err error, fallback Taxon) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := AsFailure(err); ok {
		return f
	}
	return &Failure{Taxon: fallback, Detail: err.Error()}
}
