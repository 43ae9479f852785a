package baseline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DescriptorExt is the marker-file extension for baseline descriptors.
const DescriptorExt = ".info"

// Descriptor is the correlation key encoded in a descriptor filename:
// <yyyyMMdd_HHmmss>_<prefix>_<token>.info. The token has the constrained
// shape letter, digit, letter, digits (C1W05).
type Descriptor struct {
	Timestamp string
	Prefix    string
	Token     string
}

var descriptorName = regexp.MustCompile(`^(\d{8}_\d{6})_(.+)_([A-Za-z]\d[A-Za-z]\d+)\.info$`)

// ParseDescriptorName extracts the correlation key from a descriptor
// filename. Non-conforming names report ok=false and are ignored by the
// correlator, never errored.
func ParseDescriptorName(name string) (Descriptor, bool) {
	match := descriptorName.FindStringSubmatch(filepath.Base(name))
	if match == nil {
		return Descriptor{}, false
	}
	return Descriptor{Timestamp: match[1], Prefix: match[2], Token: match[3]}, true
}

// matchesLead reports whether the descriptor belongs to a target file whose
// name starts with the given leading identifier token.
func (d Descriptor) matchesLead(lead string) bool {
	return d.Prefix == lead || strings.HasPrefix(d.Prefix, lead+"_")
}

// leadToken returns the target filename's leading identifier token, the part
// before the first underscore.
func leadToken(name string) string {
	base := filepath.Base(name)
	if idx := strings.IndexByte(base, '_'); idx > 0 {
		return base[:idx]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var contentTimestamp = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})[ T](\d{1,2}):(\d{2}):(\d{2})`)

// extractTimestamp scans file content for the embedded date/time field and
// renders it as the descriptor timestamp token.
func extractTimestamp(content []byte) (string, bool) {
	match := contentTimestamp.FindSubmatch(content)
	if match == nil {
		return "", false
	}
	parts := make([]int, 6)
	for i := range parts {
		n, err := strconv.Atoi(string(match[i+1]))
		if err != nil {
			return "", false
		}
		parts[i] = n
	}
	return fmt.Sprintf("%04d%02d%02d_%02d%02d%02d",
		parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]), true
}
