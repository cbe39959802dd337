// Package memory provides in-process implementations of the store
// repositories and a blob store. The collect command uses them when no
// database is configured.
package memory
