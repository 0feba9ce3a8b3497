/******************************************************************************
*
*  Copyright 2018 Stefan Majewsky <majewsky@gmx.net>
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package slo

import (
	"strconv"
	"strings"
)

// byteRangeKind distinguishes the three grammars a manifest entry's "range"
// string may use, same grammar as an HTTP Range header field-value without
// the "bytes=" prefix.
type byteRangeKind int

const (
	rangeExplicit  byteRangeKind = iota //"M-N"
	rangeFromStart                      //"M-"
	rangeSuffix                         //"-N"
)

// byteRange is a manifest entry's range before it has been resolved against
// a concrete segment size. This is the server-side counterpart of the
// backend client's parseHTTPRange, generalized to carry the distinction
// between the three grammars instead of collapsing them into an
// offset/length pair up front, since §4.A needs to validate satisfiability
// before a concrete size may even be known.
type byteRange struct {
	kind         byteRangeKind
	first, last  int64 //for rangeExplicit
	suffixLength int64 //for rangeSuffix
}

// parseByteRange parses the "M-N"/"M-"/"-N" grammar named in §3.
func parseByteRange(s string) (byteRange, bool) {
	fields := strings.SplitN(s, "-", 2)
	if len(fields) != 2 {
		return byteRange{}, false
	}

	if fields[0] == "" {
		//case "-N"
		if fields[1] == "" {
			return byteRange{}, false
		}
		n, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false
		}
		return byteRange{kind: rangeSuffix, suffixLength: n}, true
	}

	first, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil || first < 0 {
		return byteRange{}, false
	}
	if fields[1] == "" {
		//case "M-"
		return byteRange{kind: rangeFromStart, first: first}, true
	}

	//case "M-N"
	last, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || last < first {
		return byteRange{}, false
	}
	return byteRange{kind: rangeExplicit, first: first, last: last}, true
}

// satisfiableAgainst reports whether the range is satisfiable against the
// given object size, per §4.A's "if size_bytes known, range is satisfiable".
func (r byteRange) satisfiableAgainst(size int64) bool {
	switch r.kind {
	case rangeExplicit:
		return r.first < size
	case rangeFromStart:
		return r.first < size
	case rangeSuffix:
		return r.suffixLength > 0
	default:
		return false
	}
}

// resolve turns the range into concrete, clamped [a, b] endpoints against
// the given actual object size. Assumes satisfiableAgainst(size) already
// holds.
func (r byteRange) resolve(size int64) (a, b int64) {
	switch r.kind {
	case rangeExplicit:
		b = r.last
		if b >= size {
			b = size - 1
		}
		return r.first, b
	case rangeFromStart:
		return r.first, size - 1
	case rangeSuffix:
		length := r.suffixLength
		if length > size {
			length = size
		}
		return size - length, size - 1
	default:
		return 0, size - 1
	}
}

// formatConcreteRange renders a resolved [a, b] pair in the "A-B" form
// StoredSegmentEntry.Range stores.
func formatConcreteRange(a, b int64) string {
	return strconv.FormatInt(a, 10) + "-" + strconv.FormatInt(b, 10)
}

// parseConcreteRange parses the stored "A-B" form back into its endpoints.
func parseConcreteRange(s string) (a, b int64, ok bool) {
	if s == "" {
		return 0, 0, false
	}
	fields := strings.SplitN(s, "-", 2)
	if len(fields) != 2 {
		return 0, 0, false
	}
	a, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	b, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return a, b, true
}

// normalizeSegmentRange implements §4.B step 1: normalize a client range
// against the segment's actual length, dropping it entirely if it spans the
// whole segment.
func normalizeSegmentRange(raw string, actualLen int64) (concrete string, ok bool) {
	br, valid := parseByteRange(raw)
	if !valid || !br.satisfiableAgainst(actualLen) {
		return "", false
	}
	a, b := br.resolve(actualLen)
	if a == 0 && b == actualLen-1 {
		return "", true //whole segment: drop the range field
	}
	return formatConcreteRange(a, b), true
}
