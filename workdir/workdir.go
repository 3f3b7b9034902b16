// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package workdir maps remote repository URLs to local working-tree
// paths. The mapping is a fixed contract of the on-disk layout: the
// same URL maps to the same path across runs and across processes.
package workdir

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

func init() {
	// If we are testing in a sandboxed environment with no writable /tmp,
	// we can use the TEST_TMPDIR environment variable to override the default
	// location.
	testTmp := os.Getenv("TEST_TMPDIR")
	if testTmp != "" {
		Dir = filepath.Join(testTmp, "pijulgit")
	}
}

// Dir is the directory in which working trees are created.
var Dir = "/tmp"

// Path returns the working-tree path for the given repository URL:
// Dir joined with the first 16 hex digits of the URL's SHA-256.
func Path(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(Dir, hex.EncodeToString(sum[:8]))
}
