package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRoundTrip(t *testing.T) {
	push := PushCommand{
		Commit: CommitDescriptor{
			Project:      "acme",
			Repository:   "main",
			Revision:     5,
			BaseRevision: 4,
			Author:       Contributor{Name: "dev", Email: "dev@example.com"},
			Summary:      "update a.json",
			Changes: []Change{
				{Path: "/a.json", Kind: ChangeKindUpsert, Content: []byte(`{"k":"v"}`)},
			},
			TreeHash: "feed",
		},
	}
	cmd, err := NewCommand(CommandPush, "node-1", push)
	require.NoError(t, err)
	assert.NotEmpty(t, cmd.ID)
	assert.Equal(t, CommandPush, cmd.Type)
	assert.Equal(t, "node-1", cmd.Proposer)
	assert.NotZero(t, cmd.SubmittedAt)
	assert.Zero(t, cmd.Index)

	b, err := MarshalCommand(cmd)
	require.NoError(t, err)
	back, err := UnmarshalCommand(b)
	require.NoError(t, err)
	assert.Equal(t, cmd.ID, back.ID)
	assert.Equal(t, cmd.Type, back.Type)

	var decoded PushCommand
	require.NoError(t, back.DecodePayload(&decoded))
	assert.Equal(t, push.Commit.Project, decoded.Commit.Project)
	assert.EqualValues(t, 5, decoded.Commit.Revision)
	assert.Equal(t, push.Commit.TreeHash, decoded.Commit.TreeHash)
	require.Len(t, decoded.Commit.Changes, 1)
	assert.Equal(t, ChangeKindUpsert, decoded.Commit.Changes[0].Kind)
	assert.Equal(t, `{"k":"v"}`, string(decoded.Commit.Changes[0].Content))
}

func TestUnmarshalCommandNil(t *testing.T) {
	_, err := UnmarshalCommand(nil)
	require.Error(t, err)
}

func TestCommandIDsAreSortable(t *testing.T) {
	// ksuid command IDs preserve creation order when sorted as strings
	c1, err := NewCommand(CommandCreateProject, "n", CreateProjectCommand{Name: "p1"})
	require.NoError(t, err)
	c2, err := NewCommand(CommandCreateProject, "n", CreateProjectCommand{Name: "p2"})
	require.NoError(t, err)
	assert.LessOrEqual(t, c1.ID, c2.ID)
}
