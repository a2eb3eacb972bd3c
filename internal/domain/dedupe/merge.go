package dedupe

import (
	"strings"

	"github.com/okian/recon/internal/domain/model"
)

// mergeInto fills the empty mergeable fields of canonical from dup. Fields the
// canonical already carries are never overwritten. Reports whether anything
// changed.
func mergeInto(canonical *model.ActivityRecord, dup model.ActivityRecord) bool {
	changed := false
	if canonical.End == nil && dup.End != nil {
		canonical.End = model.At(*dup.End)
		changed = true
	}
	if canonical.Duration == nil && dup.Duration != nil {
		canonical.Duration = model.Hours(*dup.Duration)
		changed = true
	}
	if !canonical.HasDescription() && dup.HasDescription() {
		canonical.Description = dup.Description
		changed = true
	}
	if strings.TrimSpace(canonical.Reference) == "" && strings.TrimSpace(dup.Reference) != "" {
		canonical.Reference = dup.Reference
		changed = true
	}
	if strings.TrimSpace(canonical.Category) == "" && strings.TrimSpace(dup.Category) != "" {
		canonical.Category = dup.Category
		changed = true
	}
	return changed
}
