// Package postgres owns the shared backing connections: the PostgreSQL
// primary pool and the Redis client.
package postgres
