package models

import (
	"fmt"
	"strings"
)

// ShortIDLength is how many characters of a block hash end up in CSV column
// suffixes. Truncation can collide across subsections; callers keep the first
// subsection seen for a given short id.
const ShortIDLength = 8

// CourseIDForBlock derives the course identifier from a block location of the
// form "block-v1:ORG+COURSE+RUN+type@kind+block@hash".
func CourseIDForBlock(blockID string) (string, error) {
	rest, ok := strings.CutPrefix(blockID, "block-v1:")
	if !ok {
		return "", fmt.Errorf("not a block id: %q", blockID)
	}
	courseRun, _, found := strings.Cut(rest, "+type@")
	if !found {
		return "", fmt.Errorf("malformed block id: %q", blockID)
	}
	return "course-v1:" + courseRun, nil
}

// BlockHash returns the trailing hash portion of a block location, or the
// whole string when the location carries no block@ marker.
func BlockHash(location string) string {
	if idx := strings.LastIndex(location, "block@"); idx >= 0 {
		return location[idx+len("block@"):]
	}
	return location
}

// ShortBlockID truncates a location's block hash for use as a column suffix.
func ShortBlockID(location string) string {
	hash := BlockHash(location)
	if len(hash) > ShortIDLength {
		return hash[:ShortIDLength]
	}
	return hash
}
