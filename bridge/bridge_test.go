// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bridge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitLines(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"a\n", []string{"a\n"}},
		{"a\nb\n", []string{"a\n", "b\n"}},
		{"a\nb", []string{"a\n", "b"}},
	} {
		if got := splitLines([]byte(tc.in)); !linesEqual(got, tc.want) {
			t.Errorf("splitLines(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHasLineWithPrefix(t *testing.T) {
	message := "edit\n\nImported from Pijul patch " + strings.Repeat("a", 88) + "\n"
	if !hasLineWithPrefix(message, "Imported from Pijul patch ") {
		t.Error("tag line not found")
	}
	if hasLineWithPrefix(message, "Imported from Git commit ") {
		t.Error("unexpected tag line")
	}
	if hasLineWithPrefix("prefix Imported from Pijul patch x", "Imported from Pijul patch ") {
		t.Error("mid-line text treated as a tag line")
	}
}

func TestComposeMessage(t *testing.T) {
	if got, want := composeMessage("edit", "Imported from Pijul patch x"), "edit\n\nImported from Pijul patch x"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := composeMessage("", "Reverted Pijul patch x"), "Reverted Pijul patch x"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

func present(lines ...string) fileText {
	return fileText{lines: lines, ok: true}
}

var absent = fileText{}

const testCommit = "0123456789abcdef0123456789abcdef01234567"

func TestReconcileCreation(t *testing.T) {
	dir := t.TempDir()
	reconcileFile(dir, "sub/new.txt", absent, absent, present("hello\n"), testCommit)
	if got, want := read(t, filepath.Join(dir, "sub/new.txt")), "hello\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcileModification(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x\ny\nz\n"), 0666)
	reconcileFile(dir, "a.txt",
		present("x\n", "y\n", "z\n"),
		present("x\n", "y\n", "z\n"),
		present("x\n", "Y\n", "z\n"),
		testCommit)
	if got, want := read(t, filepath.Join(dir, "a.txt")), "x\nY\nz\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcileConflictBanner(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x\ny\nZ\n"), 0666)
	reconcileFile(dir, "a.txt",
		present("x\n", "y\n", "z\n"),
		present("x\n", "y\n", "Z\n"),
		present("x\n", "Y\n", "z\n"),
		testCommit)
	got := read(t, filepath.Join(dir, "a.txt"))
	wantBanner := "/*\n" +
		" * Notice by GitPijul proxy: this file was modified by both Git and Pijul. Make\n" +
		" * sure to merge the conflict yourself and remove this banner.\n" +
		" */\n"
	if !strings.HasPrefix(got, wantBanner) {
		t.Errorf("output does not start with the conflict banner:\n%s", got)
	}
	for _, marker := range []string{
		strings.Repeat(">", 32) + " Pijul\n",
		strings.Repeat("=", 32) + "\n",
		strings.Repeat("<", 32) + " Git (commit " + testCommit + ")\n",
	} {
		if !strings.Contains(got, marker) {
			t.Errorf("output is missing marker %q:\n%s", marker, got)
		}
	}
}

func TestReconcileRecreated(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("B\n"), 0666)
	reconcileFile(dir, "b.txt", absent, present("B\n"), present("A\n"), testCommit)
	got := read(t, filepath.Join(dir, "b.txt"))
	want := "/*\n" +
		" * Notice by GitPijul proxy: this file was recreated on Git side (commit\n" +
		" * 0123456789...). The original (Pijul) version is shown below; make sure to fix\n" +
		" * the conflict yourself by merging the Git changes and remove this banner.\n" +
		" */\n" +
		"B\n"
	if got != want {
		t.Errorf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestReconcileRecreatedIdentical(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("A\n"), 0666)
	reconcileFile(dir, "b.txt", absent, present("A\n"), present("A\n"), testCommit)
	if got, want := read(t, filepath.Join(dir, "b.txt")), "A\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReconcileDeletion(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x\n"), 0666)
	reconcileFile(dir, "a.txt", present("x\n"), present("x\n"), absent, testCommit)
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("file not deleted: %v", err)
	}
}

func TestReconcileDeletionWithLocalChange(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("modified\n"), 0666)
	reconcileFile(dir, "a.txt", present("x\n"), present("modified\n"), absent, testCommit)
	got := read(t, filepath.Join(dir, "a.txt"))
	if !strings.Contains(got, "removed on Git side") {
		t.Errorf("expected the removed-vs-changed banner, got:\n%s", got)
	}
	if !strings.HasSuffix(got, "modified\n") {
		t.Errorf("Pijul version not preserved:\n%s", got)
	}
}

func TestReconcileDeletedOnPatchSide(t *testing.T) {
	dir := t.TempDir()
	reconcileFile(dir, "a.txt", present("x\n"), absent, present("y\n"), testCommit)
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("deleted file resurrected: %v", err)
	}
}

func TestBannerShortHash(t *testing.T) {
	got := banner(causeRecreated, testCommit)
	if !strings.Contains(got, "0123456789...") {
		t.Errorf("banner does not name the short hash:\n%s", got)
	}
	if strings.Contains(got, testCommit) {
		t.Errorf("banner names the full hash:\n%s", got)
	}
}

func TestReadLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if ft := readLines(path); ft.ok {
		t.Error("missing file reported present")
	}
	os.WriteFile(path, []byte("a\nb\n"), 0666)
	ft := readLines(path)
	if !ft.ok {
		t.Fatal("file reported absent")
	}
	if diff := cmp.Diff([]string{"a\n", "b\n"}, ft.lines); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}
