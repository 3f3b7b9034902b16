// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bridge

import (
	"path/filepath"
	"strings"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/log"

	"github.com/purplesyringa/pijulgit/merge3"
)

// exportCommitsToPatches walks every branch head of the git
// repository and records a pijul patch for each commit not yet
// translated.
func (s *Syncer) exportCommitsToPatches() {
	log.Printf("syncing Git -> Pijul")
	refs, err := s.git.Refs()
	if err != nil {
		log.Error.Printf("list refs: %v", err)
		return
	}
	for _, ref := range refs {
		s.exportBranch(ref.Branch, ref.Commit)
	}
}

// exportBranch exports the branch's history in post-order: every
// commit's parents are recorded before the commit itself. The walk is
// iterative; commit graphs can be deep.
func (s *Syncer) exportBranch(branch string, tip digest.Digest) {
	type frame struct {
		commit   digest.Digest
		expanded bool
	}
	stack := []frame{{commit: tip}}
	visited := make(map[string]bool)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.expanded {
			s.exportCommit(branch, f.commit)
			continue
		}
		hex := f.commit.Hex()
		if visited[hex] {
			continue
		}
		visited[hex] = true
		if s.handledCommits[hex] || s.translated(f.commit) {
			continue
		}
		message, err := s.git.Message(f.commit)
		if err != nil {
			log.Error.Printf("read message of %s: %v", hex, err)
			continue
		}
		// Commits produced by the other direction must not bounce back.
		if hasLineWithPrefix(message, pijulTag) {
			continue
		}
		parents, err := s.git.Parents(f.commit)
		if err != nil {
			log.Error.Printf("read parents of %s: %v", hex, err)
			continue
		}
		stack = append(stack, frame{commit: f.commit, expanded: true})
		for _, p := range parents {
			stack = append(stack, frame{commit: p})
		}
	}
}

// translated reports whether the commit already has a patch recorded
// for it, by searching the patch log for its idempotence tag and
// confirming the description matches exactly.
func (s *Syncer) translated(c digest.Digest) bool {
	tag := gitTag + c.Hex()
	ids, err := s.pijul.GrepHashes(tag)
	if err != nil {
		return false
	}
	for _, id := range ids {
		desc, err := s.pijul.Description(id)
		if err != nil {
			continue
		}
		if desc == tag {
			return true
		}
	}
	return false
}

// exportCommit reconciles one commit's changed files into the patch
// working tree and records the result as a patch carrying the
// commit's author, date, subject, and idempotence tag.
func (s *Syncer) exportCommit(branch string, c digest.Digest) {
	hex := c.Hex()
	message, err := s.git.Message(c)
	if err != nil {
		log.Error.Printf("read message of %s: %v", hex, err)
		return
	}
	subject := firstLine(message)
	log.Printf("syncing commit %s: %s", hex, subject)

	if err := s.pijul.Checkout(branch); err != nil {
		log.Error.Printf("pijul checkout %s: %v", branch, err)
		return
	}
	files, err := s.git.ChangedFiles(c)
	if err != nil {
		log.Error.Printf("list files of %s: %v", hex, err)
		return
	}
	parents, err := s.git.Parents(c)
	if err != nil {
		log.Error.Printf("read parents of %s: %v", hex, err)
		return
	}

	theirs := s.snapshot(hex, files)
	base := make(map[string]fileText, len(files))
	if len(parents) > 0 {
		// Changed files are relative to the first parent.
		base = s.snapshot(parents[0].Hex(), files)
	}
	for _, file := range files {
		ours := readLines(filepath.Join(s.pijul.Root(), file))
		reconcileFile(s.pijul.Root(), file, base[file], ours, theirs[file], hex)
	}

	clean, err := s.pijul.Clean()
	if err == nil && clean {
		log.Printf("no changes (fast-forward)")
		s.handledCommits[hex] = true
		return
	}
	author, err := s.git.Author(c)
	if err != nil {
		log.Error.Printf("read author of %s: %v", hex, err)
		return
	}
	date, err := s.git.AuthorDate(c)
	if err != nil {
		log.Error.Printf("read date of %s: %v", hex, err)
		return
	}
	patch, err := s.pijul.Record(branch, author, date, gitTag+hex, subject)
	if err != nil {
		log.Error.Printf("record %s: %v", hex, err)
		return
	}
	log.Printf("recorded patch %s", patch)
}

// snapshot checks out the revision and captures the content of each
// named file. A failed checkout (a revision that does not exist)
// yields every file absent.
func (s *Syncer) snapshot(rev string, files []string) map[string]fileText {
	m := make(map[string]fileText, len(files))
	if err := s.git.Checkout(rev); err != nil {
		log.Error.Printf("git checkout %s: %v", rev, err)
		return m
	}
	for _, file := range files {
		m[file] = readLines(s.git.Abs(file))
	}
	return m
}

// reconcileFile applies the per-file merge decision table and writes
// the outcome into the patch working tree rooted at root.
func reconcileFile(root, file string, base, ours, theirs fileText, commitHex string) {
	target := filepath.Join(root, file)
	switch {
	case !base.ok && ours.ok:
		// Recreated on the Git side.
		if theirs.ok && linesEqual(ours.lines, theirs.lines) {
			return
		}
		log.Printf("conflict: %s recreated by Git with different contents", file)
		writeFileLines(target, banner(causeRecreated, commitHex), ours.lines)
		return
	case base.ok && !theirs.ok:
		// Deleted on the Git side.
		if ours.ok && !linesEqual(ours.lines, base.lines) {
			log.Printf("conflict: %s removed by Git but modified by Pijul", file)
			writeFileLines(target, banner(causeRemoved, commitHex), ours.lines)
			return
		}
		if err := removeFile(target); err != nil {
			log.Error.Printf("remove %s: %v", target, err)
		}
		return
	case base.ok && !ours.ok:
		// Deleted on the Pijul side; leave alone.
		return
	}

	// Creation (neither base nor ours) or modification on one or both
	// sides: three-way merge, treating the commit as an incoming
	// change on top of the patch tree.
	m := merge3.NewCherrypick(base.lines, ours.lines, theirs.lines)
	var header string
	if m.HasConflicts() {
		log.Printf("conflict: %s modified by both Git and Pijul", file)
		header = banner(causeBothModified, commitHex)
	}
	merged := m.Lines("Pijul", "Git (commit "+commitHex+")",
		strings.Repeat(">", 32), strings.Repeat("=", 32), strings.Repeat("<", 32))
	writeFileLines(target, header, merged)
}
