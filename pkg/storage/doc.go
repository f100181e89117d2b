// Package storage provides an interface to handle backend storage objects.
//
// Descriptors (projects, repositories, commits) are archived as keys of a
// flat K/V store. The local file system backend is the only one wired in;
// everything above it talks to the Store interface only.
package storage
