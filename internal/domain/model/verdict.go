package model

// MatchType names the detector that produced a duplicate match.
type MatchType string

// Match types.
const (
	MatchNone  MatchType = ""
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

// Classification is the terminal state of one evaluation.
type Classification string

// Classifications.
const (
	Unique         Classification = "UNIQUE"
	ExactDuplicate Classification = "EXACT_DUPLICATE"
	FuzzyDuplicate Classification = "FUZZY_DUPLICATE"
)

// Action is what the caller should do with an evaluated candidate.
type Action string

// Actions.
const (
	ActionInsert Action = "insert"
	ActionMark   Action = "mark"
	ActionMerge  Action = "merge"
	ActionReject Action = "reject"
)

// Verdict is the ephemeral result of evaluating one candidate.
type Verdict struct {
	IsDuplicate    bool           `json:"is_duplicate"`
	Type           MatchType      `json:"duplicate_type,omitempty"`
	Confidence     float64        `json:"confidence"`
	MatchedID      RecordID       `json:"matched_id,omitempty"`
	Action         Action         `json:"action"`
	Classification Classification `json:"classification"`
}

// Cluster is a set of originals judged to describe the same event.
type Cluster struct {
	OwnerID       OwnerID         `json:"owner_id"`
	CanonicalID   RecordID        `json:"canonical_id"`
	Members       []ClusterMember `json:"members"`
	MinConfidence float64         `json:"min_confidence"`
	AvgConfidence float64         `json:"avg_confidence"`
}

// ClusterMember is one record of a cluster with its score against the canonical.
// The canonical itself is listed with type exact and confidence 1.
type ClusterMember struct {
	ID         RecordID  `json:"id"`
	Type       MatchType `json:"type"`
	Confidence float64   `json:"confidence"`
}

// MemberIDs returns the ids of every member in order.
func (c Cluster) MemberIDs() []RecordID {
	ids := make([]RecordID, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}
