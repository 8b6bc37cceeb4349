// Package store persists chunk results to a relational database for
// offline analysis. SQLite is the default driver; Postgres is supported
// for shared deployments.
package store
