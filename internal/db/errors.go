package db

import "errors"

// ErrKeyNotFound is returned when a lookup or KV key is absent.
var ErrKeyNotFound = errors.New("db: key not found")

// ErrIndexExists is returned by redis FT.CREATE when the search index is
// already present; ensureIndex treats it as success.
var ErrIndexExists = errors.New("db: index already exists")

// Redis commands and SQL statements named in Error.Op.
const (
	OpCreateIndex = "FT.CREATE"
	OpSearch      = "FT.SEARCH"
	OpHGet        = "HGET"
	OpHGetAll     = "HGETALL"
	OpHSet        = "HSET"
	OpScan        = "SCAN"
	OpGet         = "GET"
	OpSet         = "SET"

	OpQuery  = "SELECT"
	OpInsert = "INSERT"
	OpSchema = "CREATE TABLE"
	OpBegin  = "BEGIN"
	OpCommit = "COMMIT"
	OpDecode = "DECODE"
)

// Error carries the failing Op alongside the backend error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
