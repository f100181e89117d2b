package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/internal/rand"
)

func TestEntryHashContent(t *testing.T) {
	e1 := Entry{Path: "/a.json", Kind: EntryKindFile, Content: []byte(`{"k":1}`)}
	e2 := Entry{Path: "/a.json", Kind: EntryKindFile, Content: []byte(`{"k":2}`)}
	e3 := Entry{Path: "/b.json", Kind: EntryKindFile, Content: []byte(`{"k":1}`)}

	assert.Equal(t, e1.HashContent(), e1.HashContent())
	assert.NotEqual(t, e1.HashContent(), e2.HashContent())
	assert.NotEqual(t, e1.HashContent(), e3.HashContent())
}

func TestEntriesHash(t *testing.T) {
	mkEntries := func() Entries {
		entries := make(Entries, 0, 3)
		for i := 0; i < 3; i++ {
			e := Entry{
				Path:    "/" + rand.LetterString(6) + "/" + rand.LetterString(8) + ".json",
				Kind:    EntryKindFile,
				Content: rand.Bytes(32),
			}
			e.Hash = e.HashContent()
			entries = append(entries, e)
		}
		return entries
	}

	entries := mkEntries()
	h1, err := entries.Hash()
	require.NoError(t, err)
	h2, err := entries.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// change one entry, tree hash moves
	entries[1].Content = []byte("other")
	entries[1].Hash = entries[1].HashContent()
	h3, err := entries.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	// empty tree hash is stable
	empty1, err := Entries{}.Hash()
	require.NoError(t, err)
	empty2, err := Entries(nil).Hash()
	require.NoError(t, err)
	assert.Equal(t, empty1, empty2)
}

func TestEntriesPaths(t *testing.T) {
	entries := Entries{
		{Path: "/a", Kind: EntryKindFile},
		{Path: "/b", Kind: EntryKindDirectory},
	}
	assert.Equal(t, []string{"/a", "/b"}, entries.Paths())
}
