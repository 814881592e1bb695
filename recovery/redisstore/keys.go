package redisstore

// Redis key naming conventions for checkpoint data.
// All keys are prefixed with "batch:recovery:" to avoid collisions.

const keyPrefix = "batch:recovery:"

// docKey returns the key of a document: batch:recovery:{ns}:doc:{name}
func docKey(ns, name string) string { return keyPrefix + ns + ":doc:" + name }

// lockKey returns the session lock key: batch:recovery:{ns}:lock
func lockKey(ns string) string { return keyPrefix + ns + ":lock" }
