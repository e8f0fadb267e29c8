package models

type DecisionKind string

const (
	DecisionInsert DecisionKind = "insert"
	DecisionUpdate DecisionKind = "update"
	DecisionDelete DecisionKind = "delete"
	DecisionNoOp   DecisionKind = "noop"
)

// ChangeDecision is the ephemeral outcome of comparing an incoming row's
// fingerprint against the stored one. Never persisted.
type ChangeDecision struct {
	Kind DecisionKind
	// Key is the canonical primary key string, KeyValues the raw primary
	// key columns (needed to build delete statements).
	Key       string
	KeyValues Row
	// Row is the full payload for Insert/Update, nil for Delete.
	Row  Row
	Hash uint64
}
