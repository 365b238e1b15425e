// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

//go:build linux

package sanitize

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyWorkerLimits installs the kernel-enforced resource envelope for the
// worker process: address-space and CPU caps, a file-size cap matching the
// report budget, and a process limit of 64, which bounds how many children
// the parser can spawn but does not stop it spawning any. The wall-clock timeout is enforced by the parent; RLIMIT_CPU is
// the backstop for a parent that dies.
func applyWorkerLimits(cfg *Config) error {
	mem := uint64(cfg.MemoryLimitBytes)
	if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: mem, Max: mem}); err != nil {
		return fmt.Errorf("RLIMIT_AS: %w", err)
	}

	cpuSec := uint64(cfg.TimeoutMS/1000) + 30
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpuSec, Max: cpuSec}); err != nil {
		return fmt.Errorf("RLIMIT_CPU: %w", err)
	}

	fsize := uint64(cfg.MaxOutputIRBytes)
	if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: fsize, Max: fsize}); err != nil {
		return fmt.Errorf("RLIMIT_FSIZE: %w", err)
	}

	// RLIMIT_NPROC counts the runtime's own OS threads, so zero would kill
	// the worker itself; 64 leaves room for the scheduler while making a
	// fork bomb fail immediately.
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: 64, Max: 64}); err != nil {
		return fmt.Errorf("RLIMIT_NPROC: %w", err)
	}

	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: 16, Max: 16}); err != nil {
		return fmt.Errorf("RLIMIT_NOFILE: %w", err)
	}
	return nil
}
