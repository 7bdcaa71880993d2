package redis

import "github.com/redis/rueidis"

// NewStoreForTest creates a Store with an injected client (for mocks), using the default prefix.
func NewStoreForTest(c rueidis.Client) *Store { return newStore(c, "") }
