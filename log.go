// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2019 Caleb James DeLisle
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

// This program has a single logging stream, set up entirely within
// github.com/pkt-cash/pktd/pktlog/log (package-level Debugf/Infof/Warnf/
// Errorf/Critical and SetLogLevels). Every package in this module calls
// that package directly rather than taking an injected per-subsystem
// logger, since there is only one subsystem here: the balance pipeline.

// pickNoun returns the singular or plural form of a noun depending on the
// count n.
func pickNoun(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
