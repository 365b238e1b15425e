// Copyright © 2026, Project2 PDF Sanitise contributors.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

//go:build !unix

package sanitize

import "os"

// Advisory locking is only wired on unix; elsewhere the lock file is created
// without exclusion and disjoint audit directories are the operator's
// responsibility.
func acquireDirLock(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
}

func releaseDirLock(f *os.File) error {
	return f.Close()
}
