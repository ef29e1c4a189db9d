// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package util contains helpers for cell barcodes and other identifiers.
package util

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// NearestBarcode returns the candidate with the smallest Levenshtein distance
// to query, along with that distance. Barcodes commonly carry a "-<gem
// group>" suffix that one side of a pipeline may have dropped; a candidate
// that matches query once such suffixes are stripped is reported with
// distance zero. Ties are broken by the order of candidates. It returns ("",
// -1) if candidates is empty.
func NearestBarcode(query string, candidates []string) (string, int) {
	best, bestDist := "", -1
	core := StripGEMGroup(query)
	for _, c := range candidates {
		d := 0
		if StripGEMGroup(c) != core {
			d = matchr.Levenshtein(query, c)
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
		if d == 0 {
			break
		}
	}
	return best, bestDist
}

// StripGEMGroup removes a trailing "-<digits>" suffix from a 10x barcode, e.g.
// "AAACCTGAGAAACCAT-1" -> "AAACCTGAGAAACCAT".
func StripGEMGroup(barcode string) string {
	i := strings.LastIndexByte(barcode, '-')
	if i < 0 || i == len(barcode)-1 {
		return barcode
	}
	for _, ch := range barcode[i+1:] {
		if ch < '0' || ch > '9' {
			return barcode
		}
	}
	return barcode[:i]
}
