package queue

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/msageha/complete_validator/internal/model"
)

var stateFileRegex = regexp.MustCompile(`^(\d{3})__(pending|in_progress|resolved|manual_review|stale)__([0-9a-f]{64})\.state\.json$`)

// FileKey is what a state filename encodes. Sorting filenames lexically
// orders states by priority, then status.
type FileKey struct {
	Priority    int
	Status      model.ViolationStatus
	ViolationID string
}

// Filename renders the state filename for k.
func Filename(k FileKey) string {
	p := min(max(k.Priority, 0), 999)
	return fmt.Sprintf("%03d__%s__%s.state.json", p, k.Status, k.ViolationID)
}

// ParseFilename decodes a state filename. ok is false for anything that is
// not a state file (temp files, foreign files).
func ParseFilename(name string) (FileKey, bool) {
	m := stateFileRegex.FindStringSubmatch(name)
	if m == nil {
		return FileKey{}, false
	}
	p, err := strconv.Atoi(m[1])
	if err != nil {
		return FileKey{}, false
	}
	return FileKey{Priority: p, Status: model.ViolationStatus(m[2]), ViolationID: m[3]}, true
}

func stateKey(s *model.ViolationState) FileKey {
	return FileKey{Priority: s.Priority, Status: s.Status, ViolationID: s.ViolationID}
}
