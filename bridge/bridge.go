// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bridge implements the synchronization engine between a git
// repository and a pijul repository. Each run exports new commits as
// patches and new patches as commits, tagging every translated unit so
// that it is never translated back.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/log"

	"github.com/purplesyringa/pijulgit/git"
	"github.com/purplesyringa/pijulgit/pijul"
)

// Idempotence tags. Their presence in a translated unit's message
// defines "already translated" and breaks re-import cycles; the text
// is a contract shared with every other proxy instance.
const (
	gitTag    = "Imported from Git commit "
	pijulTag  = "Imported from Pijul patch "
	revertTag = "Reverted Pijul patch "
)

// proxyAuthor attributes commits whose original author is no longer
// recoverable (a reverted patch that never reached the git log).
const proxyAuthor = "GitPijul proxy <pijulgit@localhost>"

// A Syncer keeps one git and one pijul repository synchronized. The
// handled sets record identifiers whose last translation produced no
// effective diff; they live for the life of the process and are only
// ever appended to.
type Syncer struct {
	git   *git.Repo
	pijul *pijul.Repo

	handledCommits map[string]bool
	handledPatches map[string]bool
}

// New returns a Syncer over the two repositories.
func New(g *git.Repo, p *pijul.Repo) *Syncer {
	return &Syncer{
		git:            g,
		pijul:          p,
		handledCommits: make(map[string]bool),
		handledPatches: make(map[string]bool),
	}
}

// Sync performs one full synchronization pass: update both clones,
// export commits to patches, then export patches to commits. Failures
// are logged and tolerated; the next trigger is the retry.
func (s *Syncer) Sync() {
	if err := s.git.Update(); err != nil {
		log.Error.Printf("git fetch: %v", err)
	}
	if err := s.pijul.Update(); err != nil {
		log.Error.Printf("pijul pull: %v", err)
	}
	s.exportCommitsToPatches()
	s.exportPatchesToCommits()
	log.Printf("sync complete")
}

// A fileText is the line-split content of one version of a file. ok
// distinguishes an empty file from an absent one.
type fileText struct {
	lines []string
	ok    bool
}

// readLines reads the file and splits it into lines, each retaining
// its trailing newline. Unreadable files are reported as absent.
func readLines(path string) fileText {
	b, err := os.ReadFile(path)
	if err != nil {
		return fileText{}
	}
	return fileText{lines: splitLines(b), ok: true}
}

func splitLines(b []byte) []string {
	if len(b) == 0 {
		return []string{}
	}
	lines := strings.SplitAfter(string(b), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func writeFileLines(path, header string, lines []string) {
	os.MkdirAll(filepath.Dir(path), 0777)
	if err := os.WriteFile(path, []byte(header+strings.Join(lines, "")), 0666); err != nil {
		log.Error.Printf("write %s: %v", path, err)
	}
}

func removeFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func firstLine(s string) string {
	return strings.SplitN(s, "\n", 2)[0]
}

func hasLineWithPrefix(s, prefix string) bool {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func composeMessage(message, tag string) string {
	if message == "" {
		return tag
	}
	return message + "\n\n" + tag
}

// mirrorTimeout bounds one rsync run between the two working trees.
const mirrorTimeout = 10 * time.Minute

// mirror makes the working tree at dst match src, excluding the
// metadata directories of both version control systems. Files present
// in dst but not in src are deleted, so patches that remove files
// replay as deletions.
func mirror(src, dst string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "rsync", "-r", "--delete", "--exclude=.git/", "--exclude=.pijul/", src+"/", dst+"/")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		outerr := stderr.String()
		if len(outerr) > 0 {
			outerr = "\n" + outerr
		}
		return fmt.Errorf("rsync %s -> %s: %v%s", src, dst, err, outerr)
	}
	return nil
}
