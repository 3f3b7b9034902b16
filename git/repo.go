// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package git implements support for querying and committing to git
// repositories through the git command line tool. Each operation is a
// typed call returning parsed output; callers never see raw command
// text.
package git

import (
	"bytes"
	"context"
	"crypto"
	_ "crypto/sha1"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/digest"
	"github.com/grailbio/base/flock"
	"github.com/grailbio/base/log"

	"github.com/purplesyringa/pijulgit/workdir"
)

// SHA1 is the digester used to represent Git hashes.
var SHA1 = digest.Digester(crypto.SHA1)

// CommandTimeout bounds every git invocation. Commands that exceed it
// are killed; the failure is handled like any other command failure.
var CommandTimeout = 10 * time.Minute

// A Ref is a branch head: a refs/heads name paired with its tip
// commit.
type Ref struct {
	Branch string
	Commit digest.Digest
}

// A Repo is a cached clone of a remote git repository against which
// supported git operations are issued. The clone lives at the working
// tree path derived from the remote URL and is protected by a file
// lock for the lifetime of the Repo.
type Repo struct {
	url    string
	root   string
	lock   *flock.T
	config map[string]string
}

// Open returns a repo for the provided remote url, cloning it into its
// working-tree path if no clone exists there yet. The returned repo
// holds a file lock on the path; concurrent proxies for the same URL
// block in Open.
func Open(url string) (*Repo, error) {
	path := workdir.Path(url)
	_, err := os.Stat(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	r := &Repo{url: url, root: path}
	r.lock = flock.New(path + ".lock")
	if err := r.lock.Lock(context.Background()); err != nil {
		return nil, fmt.Errorf("lock %s: %v", path, err)
	}
	if err != nil {
		os.MkdirAll(path, 0777)
		log.Printf("git: cloning %s to %s", url, path)
		if _, err := r.git(nil, "clone", r.url, r.root); err != nil {
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

// Configure sets the configuration parameter named by key to the value
// value. Properties configured this way override Git's defaults (e.g.,
// sourced through a user's .gitconfig) for repo Git invocations.
func (r *Repo) Configure(key, value string) {
	if r.config == nil {
		r.config = make(map[string]string)
	}
	r.config[key] = value
}

// Update fetches new history from the remote. Network failures are
// returned to the caller, which is expected to tolerate them and retry
// on the next trigger.
func (r *Repo) Update() error {
	log.Printf("git: fetching %s", r.url)
	_, err := r.git(nil, "fetch")
	return err
}

// Refs enumerates the repository's branch heads.
func (r *Repo) Refs() ([]Ref, error) {
	out, err := r.git(nil, "for-each-ref", "--format=%(refname) %(objectname)")
	if err != nil {
		return nil, err
	}
	var refs []Ref
	for out != nil {
		line := scanLine(&out)
		fields := bytes.Fields(line)
		if len(fields) != 2 {
			continue
		}
		name := string(fields[0])
		if !strings.HasPrefix(name, "refs/heads/") {
			continue
		}
		d, err := SHA1.Parse(string(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid ref %s: %v", line, err)
		}
		refs = append(refs, Ref{Branch: strings.TrimPrefix(name, "refs/heads/"), Commit: d})
	}
	return refs, nil
}

// Message returns the commit's full message.
func (r *Repo) Message(c digest.Digest) (string, error) {
	out, err := r.git(nil, "log", "-1", "--format=%B", c.Hex())
	return string(out), err
}

// Parents returns the commit's parent hashes, in order. A root commit
// has none.
func (r *Repo) Parents(c digest.Digest) ([]digest.Digest, error) {
	out, err := r.git(nil, "show", "-s", "--pretty=%P", c.Hex())
	if err != nil {
		return nil, err
	}
	var parents []digest.Digest
	for _, field := range strings.Fields(string(out)) {
		d, err := SHA1.Parse(field)
		if err != nil {
			return nil, fmt.Errorf("invalid parent %s of %s: %v", field, c.Hex(), err)
		}
		parents = append(parents, d)
	}
	return parents, nil
}

// Author returns the commit's author in "name <email>" form.
func (r *Repo) Author(c digest.Digest) (string, error) {
	out, err := r.git(nil, "show", "-s", "--format=%an <%ae>", c.Hex())
	return strings.TrimSpace(string(out)), err
}

// AuthorDate returns the date recorded for the commit's translation:
// git's committer date ("%ci") as an ISO-8601 timestamp, with the
// separating space rewritten to "T". It is not the author date; the two
// differ when the author date was set separately, as CommitAll's date
// argument does.
func (r *Repo) AuthorDate(c digest.Digest) (string, error) {
	out, err := r.git(nil, "log", "-1", "-s", "--format=%ci", c.Hex())
	if err != nil {
		return "", err
	}
	date := strings.TrimSpace(string(out))
	return strings.Replace(date, " ", "T", 1), nil
}

// ChangedFiles returns the paths changed by the commit relative to its
// first parent. Empty entries in the underlying listing are skipped.
func (r *Repo) ChangedFiles(c digest.Digest) ([]string, error) {
	out, err := r.git(nil, "diff-tree", "--no-commit-id", "--name-only", "-r", "--root", c.Hex())
	if err != nil {
		return nil, err
	}
	var files []string
	for out != nil {
		line := scanLine(&out)
		if len(line) == 0 {
			continue
		}
		files = append(files, string(line))
	}
	return files, nil
}

// Checkout checks out the named revision, which may be a branch name
// or a commit hash.
func (r *Repo) Checkout(rev string) error {
	_, err := r.git(nil, "checkout", rev)
	return err
}

// Clean reports whether the working tree has no uncommitted changes.
func (r *Repo) Clean() (bool, error) {
	out, err := r.git(nil, "status", "--short")
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) == 0, nil
}

// CommitAll stages every change in the working tree and commits it
// with the provided author and message. If date is nonempty it is used
// as the commit's author date. CommitAll returns the new head commit.
func (r *Repo) CommitAll(author, date, message string) (digest.Digest, error) {
	if _, err := r.git(nil, "add", "--all"); err != nil {
		return digest.Digest{}, err
	}
	args := []string{"commit", "--author=" + author, "--message=" + message, "--no-edit"}
	if date != "" {
		args = append(args, "--date="+date)
	}
	if _, err := r.git(nil, args...); err != nil {
		return digest.Digest{}, err
	}
	out, err := r.git(nil, "rev-parse", "HEAD")
	if err != nil {
		return digest.Digest{}, err
	}
	return SHA1.Parse(strings.TrimSpace(string(out)))
}

// Tagged returns, for every commit on the current branch whose message
// carries the given tag prefix, the identifier following the prefix
// mapped to the commit's hash. Only the first tagged line of each
// message counts.
func (r *Repo) Tagged(prefix string) (map[string]digest.Digest, error) {
	out, err := r.git(nil, "log", "--grep="+prefix, "--format=%x00%H %B")
	if err != nil {
		// A branch with no commits yet has nothing tagged.
		return nil, nil
	}
	return parseTagged(out, prefix)
}

func parseTagged(out []byte, prefix string) (map[string]digest.Digest, error) {
	tagged := make(map[string]digest.Digest)
	for _, part := range bytes.Split(out, []byte{0}) {
		part = bytes.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		head := part
		var body []byte
		if i := bytes.IndexByte(part, ' '); i >= 0 {
			head, body = part[:i], part[i+1:]
		}
		c, err := SHA1.Parse(string(head))
		if err != nil {
			return nil, fmt.Errorf("invalid commit in log output %q: %v", head, err)
		}
		for body != nil {
			line := string(scanLine(&body))
			if strings.HasPrefix(line, prefix) {
				fields := strings.Fields(line)
				tagged[fields[len(fields)-1]] = c
				break
			}
		}
	}
	return tagged, nil
}

func (r *Repo) git(stdin []byte, arg ...string) ([]byte, error) {
	var in io.Reader
	if stdin != nil {
		in = bytes.NewReader(stdin)
	}
	var out bytes.Buffer
	err := r.gitIO(in, &out, arg...)
	return out.Bytes(), err
}

// gitIO invokes a git command on the repository r. The provided
// arguments are passed to "git"; reader stdin is plumbed to the
// process input and its output is written to writer stdout. If an
// error occurs during the invocation of the "git" command, its
// standard error is included in the returned error.
func (r *Repo) gitIO(stdin io.Reader, stdout io.Writer, arg ...string) error {
	args := []string{"-C", r.root}
	for k, v := range r.config {
		args = append(args, "-c")
		args = append(args, k+"="+v)
	}
	args = append(args, arg...)
	ctx, cancel := context.WithTimeout(context.Background(), CommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdin = stdin
	log.Debug.Printf("%s: git %s", r.root, strings.Join(arg, " "))
	if err := cmd.Run(); err != nil {
		outerr := stderr.String()
		if len(outerr) > 0 {
			outerr = "\n" + outerr
		}
		return fmt.Errorf("%s: git %s: error: %v%s", r.root, strings.Join(arg, " "), err, outerr)
	}
	outerr := stderr.String()
	if len(outerr) > 0 {
		outerr = "\n" + outerr
	}
	log.Debug.Printf("%s: git %s: ok%s", r.root, strings.Join(arg, " "), outerr)
	return nil
}

func scanLine(b *[]byte) (line []byte) {
	i := bytes.Index(*b, []byte{'\n'})
	if i < 0 {
		line = *b
		*b = nil
		return
	}
	line = (*b)[:i]
	*b = (*b)[i+1:]
	return
}

// Abs returns the absolute path of the named file within the working
// tree.
func (r *Repo) Abs(path string) string {
	return filepath.Join(r.root, path)
}
