// Package store defines the persistence contracts for collected items,
// task sources and run history. Implementations live in internal/storage;
// this package must not import database drivers or concrete clients.
package store
