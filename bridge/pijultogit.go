// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bridge

import (
	"sort"
	"time"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/log"

	"github.com/purplesyringa/pijulgit/pijul"
)

type actionKind int

const (
	actionAdd actionKind = iota
	actionRemove
)

// An action is one unit of replay work: a patch to translate into a
// commit, or an unrecorded patch whose translation must be reverted.
// The rollback id names the patch to un-record during replay; the
// rollback phase fills it for add actions, and remove actions use the
// patch's own id.
type action struct {
	kind       actionKind
	patchID    string
	author     string
	date       string
	message    string
	when       time.Time
	rollbackID string
}

// An exportedCommit records where a patch's translation went. known is
// false for ledger entries, whose translation produced no commit.
type exportedCommit struct {
	commit digest.Digest
	known  bool
}

// exportPatchesToCommits walks every pijul branch and replays each
// patch not yet translated as a commit on the same-named git branch.
func (s *Syncer) exportPatchesToCommits() {
	log.Printf("syncing Pijul -> Git")
	branches, err := s.pijul.Branches()
	if err != nil {
		log.Error.Printf("list branches: %v", err)
		return
	}
	for _, branch := range branches {
		s.exportPatchBranch(branch)
	}
}

func (s *Syncer) exportPatchBranch(branch string) {
	if err := s.git.Checkout(branch); err != nil {
		log.Error.Printf("git checkout %s: %v", branch, err)
		return
	}

	// Patches already present in the commit log, keyed by patch id.
	tagged, err := s.git.Tagged(pijulTag)
	if err != nil {
		log.Error.Printf("scan commit log: %v", err)
		return
	}
	exported := make(map[string]exportedCommit)
	for id, c := range tagged {
		if !s.handledCommits[c.Hex()] {
			exported[id] = exportedCommit{commit: c, known: true}
		}
	}
	for id := range s.handledPatches {
		exported[id] = exportedCommit{}
	}

	entries, err := s.pijul.Log(branch)
	if err != nil {
		log.Error.Printf("pijul log %s: %v", branch, err)
		return
	}
	current := make(map[string]pijul.Entry, len(entries))
	for _, e := range entries {
		// Patches produced by the other direction must not bounce back.
		if hasLineWithPrefix(e.Message, gitTag) {
			continue
		}
		current[e.Hash] = e
	}

	actions := computeActions(current, exported, s.commitMeta)
	if len(actions) == 0 {
		return
	}

	// Rollback phase: reconstruct, for every action, the ancestor
	// working tree it replays on top of.
	log.Printf("temporarily reverting %d patches on %s", len(actions), branch)
	for _, a := range actions {
		switch a.kind {
		case actionAdd:
			id, err := s.pijul.Rollback(a.patchID, branch)
			if err != nil {
				log.Error.Printf("rollback %s: %v", a.patchID, err)
				continue
			}
			a.rollbackID = id
		case actionRemove:
			if err := s.pijul.Apply(a.patchID, branch); err != nil {
				log.Error.Printf("apply %s: %v", a.patchID, err)
			}
			if err := s.pijul.RevertAll(branch); err != nil {
				log.Error.Printf("revert %s: %v", branch, err)
			}
		}
	}

	for _, a := range actions {
		s.replay(branch, a)
	}
}

// computeActions diffs the branch's current patches against the
// already-exported set. Patches present but not exported become adds;
// exported patches no longer present become removes, with author,
// date, and subject re-sourced from the exported commit via meta.
// Actions are ordered by timestamp ascending; the patch id breaks
// ties deterministically.
func computeActions(current map[string]pijul.Entry, exported map[string]exportedCommit, meta func(digest.Digest) (author, date, subject string)) []*action {
	var actions []*action
	for id, e := range current {
		if _, ok := exported[id]; ok {
			continue
		}
		actions = append(actions, &action{
			kind:    actionAdd,
			patchID: id,
			author:  e.Author,
			date:    e.Time,
			message: e.Message,
			when:    pijul.ParseTime(e.Time),
		})
	}
	for id, exp := range exported {
		if _, ok := current[id]; ok {
			continue
		}
		a := &action{kind: actionRemove, patchID: id, rollbackID: id}
		if exp.known {
			a.author, a.date, a.message = meta(exp.commit)
			a.when = pijul.ParseTime(a.date)
		} else {
			a.author = proxyAuthor
		}
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].when.Equal(actions[j].when) {
			return actions[i].when.Before(actions[j].when)
		}
		return actions[i].patchID < actions[j].patchID
	})
	return actions
}

// commitMeta recovers authorship for a remove action from the commit
// that originally translated the patch.
func (s *Syncer) commitMeta(c digest.Digest) (author, date, subject string) {
	author, err := s.git.Author(c)
	if err != nil {
		log.Error.Printf("read author of %s: %v", c.Hex(), err)
		author = proxyAuthor
	}
	date, err = s.git.AuthorDate(c)
	if err != nil {
		log.Error.Printf("read date of %s: %v", c.Hex(), err)
		date = ""
	}
	message, err := s.git.Message(c)
	if err != nil {
		log.Error.Printf("read message of %s: %v", c.Hex(), err)
		return author, date, ""
	}
	return author, date, firstLine(message)
}

// replay translates one action into the git repository: un-record the
// rollback so the patch working tree shows exactly the action's
// content, mirror it over, and commit.
func (s *Syncer) replay(branch string, a *action) {
	switch a.kind {
	case actionAdd:
		if a.rollbackID == "" {
			log.Error.Printf("no rollback patch for %s, skipping", a.patchID)
			return
		}
		log.Printf("syncing new patch %s: %s", a.patchID, firstLine(a.message))
	case actionRemove:
		log.Printf("reverting patch %s", a.patchID)
	}

	if err := s.pijul.Unrecord(a.rollbackID, branch); err != nil {
		log.Error.Printf("unrecord %s: %v", a.rollbackID, err)
	}
	if err := s.pijul.RevertAll(branch); err != nil {
		log.Error.Printf("revert %s: %v", branch, err)
	}
	if err := mirror(s.pijul.Root(), s.git.Root()); err != nil {
		log.Error.Printf("mirror: %v", err)
		return
	}

	clean, err := s.git.Clean()
	if err == nil && clean {
		log.Printf("no changes (fast-forward)")
		s.handledPatches[a.patchID] = true
		return
	}

	var body string
	switch a.kind {
	case actionAdd:
		body = composeMessage(a.message, pijulTag+a.patchID)
	case actionRemove:
		body = composeMessage(a.message, revertTag+a.patchID)
	}
	c, err := s.git.CommitAll(a.author, a.date, body)
	if err != nil {
		log.Error.Printf("commit for patch %s: %v", a.patchID, err)
		return
	}
	log.Printf("committed %s", c.Hex())
}
