package dedupe

import "github.com/okian/recon/internal/domain/model"

// action maps a classification to what should happen to the candidate.
//
//	UNIQUE                          -> insert
//	duplicate, soft off             -> reject
//	EXACT_DUPLICATE, soft on        -> mark
//	FUZZY_DUPLICATE, soft on        -> mark, or merge with intelligent merge
func (e *Engine) action(class model.Classification) model.Action {
	if class == model.Unique {
		return model.ActionInsert
	}
	if !e.cfg.EnableSoftDeduplication {
		return model.ActionReject
	}
	if class == model.FuzzyDuplicate && e.cfg.EnableIntelligentMerge {
		return model.ActionMerge
	}
	return model.ActionMark
}

func (e *Engine) uniqueVerdict() model.Verdict {
	return model.Verdict{
		Action:         e.action(model.Unique),
		Classification: model.Unique,
	}
}

func (e *Engine) exactVerdict(matched model.RecordID) model.Verdict {
	return model.Verdict{
		IsDuplicate:    true,
		Type:           model.MatchExact,
		Confidence:     1,
		MatchedID:      matched,
		Action:         e.action(model.ExactDuplicate),
		Classification: model.ExactDuplicate,
	}
}

func (e *Engine) fuzzyVerdict(matched model.RecordID, confidence float64) model.Verdict {
	return model.Verdict{
		IsDuplicate:    true,
		Type:           model.MatchFuzzy,
		Confidence:     confidence,
		MatchedID:      matched,
		Action:         e.action(model.FuzzyDuplicate),
		Classification: model.FuzzyDuplicate,
	}
}

// cleanupAction is the action taken for an existing duplicate during
// cleanup. The row already exists, so reject degrades to mark and
// downgraded reports that it did.
func (e *Engine) cleanupAction(t model.MatchType) (action model.Action, downgraded bool) {
	class := model.FuzzyDuplicate
	if t == model.MatchExact {
		class = model.ExactDuplicate
	}
	switch a := e.action(class); a {
	case model.ActionReject:
		return model.ActionMark, true
	default:
		return a, false
	}
}
