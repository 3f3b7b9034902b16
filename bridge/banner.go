// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bridge

import "strings"

// A conflictCause selects the banner written into a file whose
// reconciliation could not be completed automatically. For a recreated
// or removed file the Pijul version of the content is the one preserved
// below the banner; for a file modified on both sides the three-way
// merge output, with its conflict markers, follows the banner.
type conflictCause int

const (
	// causeBothModified marks a file changed on both sides whose
	// three-way merge reported a conflict.
	causeBothModified conflictCause = iota
	// causeRecreated marks a file absent from the commit's parent but
	// present, with different content, in the patch working tree.
	causeRecreated
	// causeRemoved marks a file deleted by the commit but modified in
	// the patch working tree.
	causeRemoved
)

// banner renders the in-band conflict notice for the given cause.
// commit is the full commit hash; the recreated and removed banners
// name its first 10 characters, the both-modified banner names no
// commit.
func banner(cause conflictCause, commit string) string {
	short := commit
	if len(short) > 10 {
		short = short[:10]
	}
	switch cause {
	case causeRecreated:
		return notice(
			"Notice by GitPijul proxy: this file was recreated on Git side (commit",
			short+"...). The original (Pijul) version is shown below; make sure to fix",
			"the conflict yourself by merging the Git changes and remove this banner.",
		)
	case causeRemoved:
		return notice(
			"Notice by GitPijul proxy: this file was removed on Git side (commit",
			short+"...) but modified on Pijul side. The Pijul version is shown below;",
			"make sure to resolve the conflict yourself and remove this banner.",
		)
	default:
		return notice(
			"Notice by GitPijul proxy: this file was modified by both Git and Pijul. Make",
			"sure to merge the conflict yourself and remove this banner.",
		)
	}
}

func notice(lines ...string) string {
	var b strings.Builder
	b.WriteString("/*\n")
	for _, line := range lines {
		b.WriteString(" * ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(" */\n")
	return b.String()
}
