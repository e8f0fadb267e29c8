package models

// Statement is one parameterized SQL operation produced by the statement
// builder and applied inside a SyncTransaction.
type Statement struct {
	SQL  string
	Args []any
}
