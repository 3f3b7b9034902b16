// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package git

import (
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/grailbio/testutil"

	"github.com/purplesyringa/pijulgit/workdir"
)

const patchTag = "Imported from Pijul patch "

func TestParseTagged(t *testing.T) {
	var (
		commit1 = strings.Repeat("1", 40)
		commit2 = strings.Repeat("2", 40)
		commit3 = strings.Repeat("3", 40)
		patchA  = strings.Repeat("a", 88)
		patchB  = strings.Repeat("b", 88)
	)
	out := []byte("\x00" + commit1 + " subject one\n\n" + patchTag + patchA + "\n" +
		"\x00" + commit2 + " subject two\n\nunrelated body\n" +
		"\x00" + commit3 + " subject three\n\n" + patchTag + patchB + "\n")
	tagged, err := parseTagged(out, patchTag)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(tagged), 2; got != want {
		t.Fatalf("got %d tagged commits, want %v", got, want)
	}
	if got, want := tagged[patchA].Hex(), commit1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := tagged[patchB].Hex(), commit3; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseTaggedEmpty(t *testing.T) {
	tagged, err := parseTagged(nil, patchTag)
	if err != nil {
		t.Fatal(err)
	}
	if len(tagged) != 0 {
		t.Errorf("got %d tagged commits, want 0", len(tagged))
	}
}

func TestRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	defer func(saved string) { workdir.Dir = saved }(workdir.Dir)
	workdir.Dir = dir

	origin := dir + "/origin"
	shell(t, dir, "git init --bare -b master origin")

	r, err := Open(origin)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	r.Configure("user.email", "you@example.com")
	r.Configure("user.name", "your name")

	refs, err := r.Refs()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(refs), 0; got != want {
		t.Fatalf("got %v refs, want %v", got, want)
	}

	if err := os.WriteFile(r.Abs("a.txt"), []byte("hello\n"), 0666); err != nil {
		t.Fatal(err)
	}
	clean, err := r.Clean()
	if err != nil {
		t.Fatal(err)
	}
	if clean {
		t.Fatal("working tree clean after write")
	}
	// AuthorDate reads the committer date, which CommitAll's date
	// argument does not set.
	t.Setenv("GIT_COMMITTER_DATE", "2024-01-02T03:04:05 +0000")
	c1, err := r.CommitAll("A <a@x>", "2024-01-02T03:04:05 +0000", "init")
	if err != nil {
		t.Fatal(err)
	}

	refs, err = r.Refs()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(refs), 1; got != want {
		t.Fatalf("got %v refs, want %v", got, want)
	}
	if got, want := refs[0].Commit, c1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	parents, err := r.Parents(c1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(parents), 0; got != want {
		t.Errorf("got %v parents, want %v", got, want)
	}
	files, err := r.ChangedFiles(c1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := strings.Join(files, ","), "a.txt"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	author, err := r.Author(c1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := author, "A <a@x>"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	date, err := r.AuthorDate(c1)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := date, "2024-01-02T03:04:05 +0000"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	// A second commit carrying an idempotence tag.
	patchID := strings.Repeat("a", 88)
	if err := os.WriteFile(r.Abs("b.txt"), []byte("more\n"), 0666); err != nil {
		t.Fatal(err)
	}
	c2, err := r.CommitAll("B <b@x>", "", "edit\n\n"+patchTag+patchID)
	if err != nil {
		t.Fatal(err)
	}
	parents, err = r.Parents(c2)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(parents), 1; got != want {
		t.Fatalf("got %v parents, want %v", got, want)
	}
	if got, want := parents[0], c1; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	message, err := r.Message(c2)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(message, patchTag+patchID) {
		t.Errorf("message %q is missing the tag", message)
	}
	tagged, err := r.Tagged(patchTag)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := tagged[patchID], c2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func shell(t *testing.T, dir, script string) {
	t.Helper()
	cmd := exec.Command("bash", "-e")
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(script)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("script failed: %v\n%s", err, stderr.String())
	}
}
