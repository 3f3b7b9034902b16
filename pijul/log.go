// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package pijul

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// An Entry is one patch in the output of pijul log.
type Entry struct {
	// Hash is the patch hash.
	Hash string
	// Author is the patch's author string.
	Author string
	// Time is the patch's timestamp, normalized by NormalizeTimestamp.
	Time string
	// Message is the patch message followed by its description, if
	// any.
	Message string
}

var ansiRe = regexp.MustCompile("\x1b\\[[0-9;]*m")

func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// parseLog parses the output of pijul log into entries. Each record is
//
//	Hash: <88-char hash>
//	Internal id: <id>
//	Authors: <author>
//	Timestamp: <timestamp>
//
//	    <message lines, indented>
//
// Color escapes are stripped first; the parser keys on the field names
// rather than on terminal attributes.
func parseLog(out string) []Entry {
	var (
		entries []Entry
		cur     *Entry
		message []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Message = strings.TrimSpace(strings.Join(message, "\n"))
		entries = append(entries, *cur)
		cur = nil
		message = nil
	}
	for _, line := range strings.Split(stripANSI(out), "\n") {
		switch {
		case strings.HasPrefix(line, "Hash:"):
			flush()
			cur = &Entry{Hash: strings.TrimSpace(strings.TrimPrefix(line, "Hash:"))}
		case cur == nil:
			// Preamble, such as a repository id line.
		case strings.HasPrefix(line, "Internal id:"):
		case strings.HasPrefix(line, "Authors:"):
			cur.Author = strings.TrimSpace(strings.TrimPrefix(line, "Authors:"))
		case strings.HasPrefix(line, "Timestamp:"):
			cur.Time = NormalizeTimestamp(strings.TrimSpace(strings.TrimPrefix(line, "Timestamp:")))
		case strings.HasPrefix(line, "    "):
			message = append(message, line[4:])
		case strings.TrimSpace(line) == "":
			if len(message) > 0 {
				message = append(message, "")
			}
		default:
			message = append(message, line)
		}
	}
	flush()
	return entries
}

// parseHashCandidates parses hash-only log output. Each line is a
// candidate of the form "<hash>" or "<hash>:<rest>"; candidates that
// are not patch-hash length (the repository id appears as the first
// line of some outputs) are dropped.
func parseHashCandidates(out string) []string {
	var hashes []string
	for _, line := range strings.Split(stripANSI(out), "\n") {
		candidate := strings.TrimSpace(strings.SplitN(line, ":", 2)[0])
		if len(candidate) == HashLen {
			hashes = append(hashes, candidate)
		}
	}
	return hashes
}

// parseRecorded extracts the patch hash from the output of pijul
// record and pijul rollback ("Recorded patch <hash>").
func parseRecorded(out string) (string, error) {
	s := strings.TrimSpace(stripANSI(out))
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "Recorded patch ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Recorded patch ")), nil
		}
	}
	return "", errNoPatchRecorded
}

var errNoPatchRecorded = errors.New("no patch recorded")

// NormalizeTimestamp truncates a fractional-second component to
// microseconds, preserving the timezone suffix. Timestamps without a
// fractional component are returned unchanged.
func NormalizeTimestamp(ts string) string {
	dot := strings.Index(ts, ".")
	if dot < 0 {
		return ts
	}
	head, rest := ts[:dot], ts[dot+1:]
	space := strings.Index(rest, " ")
	if space < 0 {
		return ts
	}
	frac, suffix := rest[:space], rest[space+1:]
	if len(frac) > 6 {
		frac = frac[:6]
	}
	return head + "." + frac + " " + suffix
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999 MST",
	"2006-01-02 15:04:05.999999 -0700",
	"2006-01-02T15:04:05 -0700",
	"2006-01-02T15:04:05-07:00",
	time.RFC3339,
}

// ParseTime parses a normalized pijul timestamp or a git ISO-8601
// date. The zero time is returned for anything unparseable; callers
// use the result for ordering only.
func ParseTime(ts string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}
