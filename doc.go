/*
Package treeline provides a replicated, version-controlled repository
service for structured configuration.

Projects own named repositories; each repository is an append-only
sequence of atomic, conflict-checked commits over a tree of files, and
every cluster node converges on the same history through a replicated
command log.
*/
package treeline
