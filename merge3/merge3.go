// Copyright 2019 The PijulGit Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package merge3 implements line-level three-way merging. Given a
// common base and two descendant texts, it produces either a clean
// merge or a marked-conflict output. Lines are compared whole,
// including any trailing newline.
package merge3

// A Merge reconciles two texts, a and b, against a common base.
//
// In cherry-pick mode, b is treated as an incoming change being
// replayed on top of a rather than as a divergent line of history:
// regions where b still matches the base carry no incoming change and
// resolve to a's text.
type Merge struct {
	base, a, b []string
	cherrypick bool

	regions []region
}

// New returns a Merge of a and b against base.
func New(base, a, b []string) *Merge {
	return &Merge{base: base, a: a, b: b}
}

// NewCherrypick returns a Merge of a and b against base, with b
// treated as an incoming patch on top of base.
func NewCherrypick(base, a, b []string) *Merge {
	return &Merge{base: base, a: a, b: b, cherrypick: true}
}

// HasConflicts reports whether any merge region is a conflict.
func (m *Merge) HasConflicts() bool {
	for _, r := range m.mergeRegions() {
		if r.kind == regionConflict {
			return true
		}
	}
	return false
}

// Lines returns the merged text. Conflicting regions are bracketed by
// startMarker (labeled nameA, followed by a's lines), midMarker, and
// endMarker (preceded by b's lines, labeled nameB). Marker lines are
// newline-terminated.
func (m *Merge) Lines(nameA, nameB, startMarker, midMarker, endMarker string) []string {
	if nameA != "" {
		startMarker = startMarker + " " + nameA
	}
	if nameB != "" {
		endMarker = endMarker + " " + nameB
	}
	var out []string
	for _, r := range m.mergeRegions() {
		switch r.kind {
		case regionUnchanged:
			out = append(out, m.base[r.zlo:r.zhi]...)
		case regionSame, regionA:
			out = append(out, m.a[r.alo:r.ahi]...)
		case regionB:
			out = append(out, m.b[r.blo:r.bhi]...)
		case regionConflict:
			out = append(out, startMarker+"\n")
			out = append(out, m.a[r.alo:r.ahi]...)
			out = append(out, midMarker+"\n")
			out = append(out, m.b[r.blo:r.bhi]...)
			out = append(out, endMarker+"\n")
		}
	}
	return out
}

type regionKind int

const (
	regionUnchanged regionKind = iota // base text common to all three
	regionSame                       // a and b made the same change
	regionA                          // only a changed
	regionB                          // only b changed
	regionConflict                   // a and b diverged
)

type region struct {
	kind                         regionKind
	zlo, zhi, alo, ahi, blo, bhi int
}

func (m *Merge) mergeRegions() []region {
	if m.regions != nil {
		return m.regions
	}
	iz, ia, ib := 0, 0, 0
	for _, s := range m.syncRegions() {
		if s.alo > ia || s.blo > ib {
			equalA := rangesEqual(m.a, ia, s.alo, m.base, iz, s.zlo)
			equalB := rangesEqual(m.b, ib, s.blo, m.base, iz, s.zlo)
			same := rangesEqual(m.a, ia, s.alo, m.b, ib, s.blo)
			switch {
			case same:
				m.regions = append(m.regions, region{kind: regionSame, alo: ia, ahi: s.alo})
			case equalA && !equalB:
				m.regions = append(m.regions, region{kind: regionB, blo: ib, bhi: s.blo})
			case equalB && !equalA:
				m.regions = append(m.regions, region{kind: regionA, alo: ia, ahi: s.alo})
			case m.cherrypick:
				m.regions = append(m.regions, m.refineCherrypickConflict(iz, s.zlo, ia, s.alo, ib, s.blo)...)
			default:
				m.regions = append(m.regions, region{kind: regionConflict, zlo: iz, zhi: s.zlo, alo: ia, ahi: s.alo, blo: ib, bhi: s.blo})
			}
			ia = s.alo
			ib = s.blo
		}
		iz = s.zlo
		if s.zhi > s.zlo {
			m.regions = append(m.regions, region{kind: regionUnchanged, zlo: s.zlo, zhi: s.zhi})
			iz = s.zhi
			ia = s.ahi
			ib = s.bhi
		}
	}
	if m.regions == nil {
		m.regions = []region{}
	}
	return m.regions
}

// refineCherrypickConflict splits a conflict when b is an incoming
// patch replayed on top of a: chunks of b that still match the base
// carry no incoming change and are dropped from the conflict instead
// of being fought over. The first emitted conflict carries a's whole
// range; later ones carry an empty a range. If every chunk of b
// matches the base (the incoming change is a pure deletion), the
// whole region is one conflict.
func (m *Merge) refineCherrypickConflict(zlo, zhi, alo, ahi, blo, bhi int) []region {
	var (
		out          []region
		lastZ, lastB int
		yieldedA     bool
	)
	emit := func(z0, z1, b0, b1 int) {
		r := region{kind: regionConflict, zlo: zlo + z0, zhi: zlo + z1, blo: blo + b0, bhi: blo + b1}
		if yieldedA {
			r.alo, r.ahi = ahi, ahi
		} else {
			r.alo, r.ahi = alo, ahi
			yieldedA = true
		}
		out = append(out, r)
	}
	for _, mb := range matchingBlocks(m.base[zlo:zhi], m.b[blo:bhi]) {
		if mb.j > lastB {
			emit(lastZ, mb.i, lastB, mb.j)
		}
		lastZ = mb.i + mb.n
		lastB = mb.j + mb.n
	}
	if !yieldedA {
		return []region{{kind: regionConflict, zlo: zlo, zhi: zhi, alo: alo, ahi: ahi, blo: blo, bhi: bhi}}
	}
	return out
}

// A syncRegion is a run of base lines matched, without gaps, in both a
// and b. The final region is a zero-length sentinel at the end of all
// three texts.
type syncRegion struct {
	zlo, zhi, alo, ahi, blo, bhi int
}

func (m *Merge) syncRegions() []syncRegion {
	amatches := matchingBlocks(m.base, m.a)
	bmatches := matchingBlocks(m.base, m.b)
	var out []syncRegion
	ia, ib := 0, 0
	for ia < len(amatches) && ib < len(bmatches) {
		am, bm := amatches[ia], bmatches[ib]
		lo := am.i
		if bm.i > lo {
			lo = bm.i
		}
		hi := am.i + am.n
		if bm.i+bm.n < hi {
			hi = bm.i + bm.n
		}
		if hi > lo {
			asub := am.j + (lo - am.i)
			bsub := bm.j + (lo - bm.i)
			out = append(out, syncRegion{
				zlo: lo, zhi: hi,
				alo: asub, ahi: asub + (hi - lo),
				blo: bsub, bhi: bsub + (hi - lo),
			})
		}
		if am.i+am.n < bm.i+bm.n {
			ia++
		} else {
			ib++
		}
	}
	out = append(out, syncRegion{
		zlo: len(m.base), zhi: len(m.base),
		alo: len(m.a), ahi: len(m.a),
		blo: len(m.b), bhi: len(m.b),
	})
	return out
}

func rangesEqual(a []string, alo, ahi int, b []string, blo, bhi int) bool {
	if ahi-alo != bhi-blo {
		return false
	}
	for i := 0; i < ahi-alo; i++ {
		if a[alo+i] != b[blo+i] {
			return false
		}
	}
	return true
}

// A block is a maximal run of n lines starting at a[i] and b[j] that
// compare equal.
type block struct {
	i, j, n int
}

// matchingBlocks returns the non-overlapping matching blocks of a and
// b in ascending order, terminated by a zero-length sentinel at
// (len(a), len(b)).
func matchingBlocks(a, b []string) []block {
	b2j := make(map[string][]int, len(b))
	for j, line := range b {
		b2j[line] = append(b2j[line], j)
	}
	var blocks []block
	var rec func(alo, ahi, blo, bhi int)
	rec = func(alo, ahi, blo, bhi int) {
		m := longestMatch(a, b2j, alo, ahi, blo, bhi)
		if m.n == 0 {
			return
		}
		rec(alo, m.i, blo, m.j)
		blocks = append(blocks, m)
		rec(m.i+m.n, ahi, m.j+m.n, bhi)
	}
	rec(0, len(a), 0, len(b))
	blocks = append(blocks, block{len(a), len(b), 0})
	return blocks
}

// longestMatch finds the longest matching block within
// a[alo:ahi] and b[blo:bhi], preferring the earliest on ties.
func longestMatch(a []string, b2j map[string][]int, alo, ahi, blo, bhi int) block {
	best := block{alo, blo, 0}
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > best.n {
				best = block{i - k + 1, j - k + 1, k}
			}
		}
		j2len = newj2len
	}
	return best
}
