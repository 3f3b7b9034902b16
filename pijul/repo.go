// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pijul implements support for querying and recording to
// pijul repositories through the pijul command line tool, one typed
// method per operation.
package pijul

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/grailbio/base/flock"
	"github.com/grailbio/base/log"

	"github.com/purplesyringa/pijulgit/workdir"
)

// HashLen is the length of a pijul patch hash. Shorter identifiers in
// command output (such as the repository id) are not patch hashes.
const HashLen = 88

// CommandTimeout bounds every pijul invocation. Commands that exceed
// it are killed; the failure is handled like any other command
// failure.
var CommandTimeout = 10 * time.Minute

// A Repo is a local pijul repository tracking a remote, living at the
// working-tree path derived from the remote URL and protected by a
// file lock for the lifetime of the Repo.
type Repo struct {
	url  string
	root string
	lock *flock.T
}

// Open returns a repo for the provided remote url. If no repository
// exists at the URL's working-tree path yet, one is initialized with
// the remote as its default, and all branches are pulled.
func Open(url string) (*Repo, error) {
	path := workdir.Path(url)
	_, statErr := os.Stat(path)
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, statErr
	}
	r := &Repo{url: url, root: path}
	r.lock = flock.New(path + ".lock")
	if err := r.lock.Lock(context.Background()); err != nil {
		return nil, fmt.Errorf("lock %s: %v", path, err)
	}
	if statErr != nil {
		if err := os.MkdirAll(path, 0777); err != nil {
			r.lock.Unlock()
			return nil, err
		}
		log.Printf("pijul: cloning %s to %s", url, path)
		if _, err := r.pijul("init"); err != nil {
			r.lock.Unlock()
			return nil, err
		}
		if _, err := r.pijul("pull", "--set-default", "--set-remote", "origin", url, "--all"); err != nil {
			r.lock.Unlock()
			return nil, err
		}
	}
	return r, nil
}

// Root returns the repo's working-tree path.
func (r *Repo) Root() string {
	return r.root
}

func (r *Repo) String() string {
	return fmt.Sprintf("%s (%s)", r.url, r.root)
}

// Close relinquishes the repo's lock. Repo operations may not be
// safely performed after the repository has been closed.
func (r *Repo) Close() error {
	return r.lock.Unlock()
}

// Update pulls all branches from the default remote. Network failures
// are returned to the caller, which is expected to tolerate them and
// retry on the next trigger.
func (r *Repo) Update() error {
	log.Printf("pijul: pulling %s", r.url)
	_, err := r.pijul("pull", "--all")
	return err
}

// Branches lists the repository's branches.
func (r *Repo) Branches() ([]string, error) {
	out, err := r.pijul("branches")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(stripANSI(out), "\n") {
		if line == "" {
			continue
		}
		// Lines are of the form "* master" or "  other".
		if len(line) > 2 {
			branches = append(branches, line[2:])
		}
	}
	return branches, nil
}

// Checkout switches the working tree to the named branch.
func (r *Repo) Checkout(branch string) error {
	_, err := r.pijul("checkout", branch)
	return err
}

// Log returns the branch's patches, newest first, with normalized
// timestamps.
func (r *Repo) Log(branch string) ([]Entry, error) {
	out, err := r.pijul("log", "--branch", branch)
	if err != nil {
		return nil, err
	}
	return parseLog(out), nil
}

// GrepHashes returns the hashes of patches whose log entry matches the
// given text. Candidates that are not patch-hash shaped (such as the
// repository id some commands print first) are dropped.
func (r *Repo) GrepHashes(needle string) ([]string, error) {
	out, err := r.pijul("log", "--grep", needle, "--hash-only")
	if err != nil {
		return nil, err
	}
	return parseHashCandidates(out), nil
}

// Description returns the patch's recorded description.
func (r *Repo) Description(id string) (string, error) {
	out, err := r.pijul("patch", "--description", id)
	return strings.TrimSpace(stripANSI(out)), err
}

// Record records all current changes on the branch as a new patch and
// returns its hash. New files are added.
func (r *Repo) Record(branch, author, date, description, message string) (string, error) {
	out, err := r.pijul("record", "--add-new-files", "--all",
		"--author", author,
		"--branch", branch,
		"--date", date,
		"--description", description,
		"--message", message)
	if err != nil {
		return "", err
	}
	return parseRecorded(out)
}

// Rollback records an inverse patch neutralizing the target patch's
// effect, leaving the target in the log, and returns the inverse
// patch's hash.
func (r *Repo) Rollback(id, branch string) (string, error) {
	out, err := r.pijul("rollback", "--author", "Rollback", "--message", "Rollback", id, "--branch", branch)
	if err != nil {
		return "", err
	}
	return parseRecorded(out)
}

// Unrecord removes the patch from the branch's log entirely.
func (r *Repo) Unrecord(id, branch string) error {
	_, err := r.pijul("unrecord", id, "--branch", branch)
	return err
}

// RevertAll resets the working tree to the branch's recorded state.
func (r *Repo) RevertAll(branch string) error {
	_, err := r.pijul("revert", "--all", "--branch", branch)
	return err
}

// Apply applies a known patch to the branch.
func (r *Repo) Apply(id, branch string) error {
	_, err := r.pijul("apply", id, "--branch", branch)
	return err
}

// Clean reports whether the working tree has no unrecorded changes.
func (r *Repo) Clean() (bool, error) {
	out, err := r.pijul("status", "--short")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

func (r *Repo) pijul(arg ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "pijul", arg...)
	cmd.Dir = r.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debug.Printf("%s: pijul %s", r.root, strings.Join(arg, " "))
	if err := cmd.Run(); err != nil {
		outerr := stderr.String()
		if len(outerr) > 0 {
			outerr = "\n" + outerr
		}
		return stdout.String(), fmt.Errorf("%s: pijul %s: error: %v%s", r.root, strings.Join(arg, " "), err, outerr)
	}
	return stdout.String(), nil
}
