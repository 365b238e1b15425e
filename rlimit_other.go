// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

//go:build !linux

package sanitize

// Kernel resource limits are wired on Linux only. Elsewhere the parent-side
// wall-clock timeout and decode budgets still apply, but the memory and
// process caps are not enforced; deployments requiring the full envelope
// must run the worker on Linux.
func applyWorkerLimits(cfg *Config) error {
	return nil
}
