// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

//go:build unix

package sanitize

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireDirLock takes a non-blocking exclusive flock on path. A second
// controller pointed at the same audit directory fails fast instead of
// interleaving appends.
func acquireDirLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("audit directory already locked: %w", err)
	}
	return f, nil
}

func releaseDirLock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
