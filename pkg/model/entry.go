package model

import (
	"encoding/hex"
	"hash"

	units "github.com/docker/go-units"
	blake2b "github.com/minio/blake2b-simd"
)

// EntryKind discriminates the node types of a repository tree.
type EntryKind string

const (
	// EntryKindFile is a leaf entry carrying content bytes
	EntryKindFile EntryKind = "FILE"

	// EntryKindDirectory is an interior entry implied by the files below it
	EntryKindDirectory EntryKind = "DIRECTORY"
)

// Entry is one addressable node of a repository tree at some revision.
type Entry struct {
	Path    string    `json:"path" yaml:"path"`
	Kind    EntryKind `json:"kind" yaml:"kind"`
	Content []byte    `json:"content,omitempty" yaml:"content,omitempty"`
	Hash    string    `json:"hash,omitempty" yaml:"hash,omitempty"`
	_       struct{}
}

// HashContent computes the entry hash over path and content.
func (e Entry) HashContent() string {
	hasher := blake2b.New512()
	_, _ = hasher.Write(UnsafeStringToBytes(e.Path))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write(e.Content)
	return hex.EncodeToString(hasher.Sum(nil))
}

// Entries represent a collection of entries in path order
type Entries []Entry

// Hash folds the entry hashes into a single tree hash.
//
// Two trees hash identically iff they hold the same paths with the same
// content, which is how redundant commits are detected. Entries must be in
// path order.
func (entries Entries) Hash() (string, error) {
	hasher, err := newTreeHasher()
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		//#nosec
		_, _ = hasher.Write(UnsafeStringToBytes(e.Hash))
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// newTreeHasher configures a two-level blake2b tree hash over entry leaves.
func newTreeHasher() (hash.Hash, error) {
	return blake2b.New(&blake2b.Config{
		Size: 64,
		Tree: &blake2b.Tree{
			MaxDepth:      2,
			LeafSize:      5 * units.MiB,
			NodeDepth:     1,
			InnerHashSize: 64,
			IsLastNode:    true,
		},
	})
}

// Paths lists the entry paths, preserving order
func (entries Entries) Paths() []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return paths
}
