package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type archivePathFixture struct {
	name       string
	path       string
	wantsError bool
	expected   ArchivePathComponents
}

func archivePathTestCases() []archivePathFixture {
	return []archivePathFixture{
		// happy path
		{
			name: "project descriptor",
			path: "projects/test-project/project.yaml",
			expected: ArchivePathComponents{
				Project:         "test-project",
				ArchiveFileName: "project.yaml",
			},
		},
		{
			name: "repo descriptor",
			path: "repos/test-project/test-repo/repo.yaml",
			expected: ArchivePathComponents{
				Project:         "test-project",
				Repo:            "test-repo",
				ArchiveFileName: "repo.yaml",
			},
		},
		{
			name: "commit descriptor",
			path: "commits/test-project/test-repo/0000000000000042/commit.yaml",
			expected: ArchivePathComponents{
				Project:         "test-project",
				Repo:            "test-repo",
				Revision:        42,
				ArchiveFileName: "commit.yaml",
			},
		},
		{
			name:       "commit revision is not padded",
			path:       "commits/test-project/test-repo/42/commit.yaml",
			wantsError: true,
		},
		{
			name:       "commit revision is not a number",
			path:       "commits/test-project/test-repo/notARevisionXX/commit.yaml",
			wantsError: true,
		},
		{
			name:       "commit revision zero",
			path:       "commits/test-project/test-repo/0000000000000000/commit.yaml",
			wantsError: true,
		},
		{
			name:       "truncated project path",
			path:       "projects/test-project",
			wantsError: true,
		},
		{
			name:       "wrong descriptor file",
			path:       "repos/test-project/test-repo/bundle.yaml",
			wantsError: true,
		},
		{
			name:       "extra components",
			path:       "projects/test-project/sub/project.yaml",
			wantsError: true,
		},
		{
			name:       "unknown top level",
			path:       "labels/test-project/test-repo/label.yaml",
			wantsError: true,
		},
	}
}

func TestGetArchivePathComponents(t *testing.T) {
	for _, toPin := range archivePathTestCases() {
		testcase := toPin
		t.Run(testcase.name, func(t *testing.T) {
			t.Parallel()
			apc, err := GetArchivePathComponents(testcase.path)
			if testcase.wantsError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testcase.expected, apc)
		})
	}
}

func TestArchivePathRoundTrip(t *testing.T) {
	pth := GetArchivePathToCommit("proj", "repo", 7)
	assert.Equal(t, "commits/proj/repo/0000000000000007/commit.yaml", pth)
	apc, err := GetArchivePathComponents(pth)
	require.NoError(t, err)
	assert.Equal(t, Revision(7), apc.Revision)

	pth = GetArchivePathToProjectDescriptor("proj")
	assert.Equal(t, "projects/proj/project.yaml", pth)

	pth = GetArchivePathToRepoDescriptor("proj", "repo")
	assert.Equal(t, "repos/proj/repo/repo.yaml", pth)
	apc, err = GetArchivePathComponents(pth)
	require.NoError(t, err)
	assert.Equal(t, "proj", apc.Project)
	assert.Equal(t, "repo", apc.Repo)
}

func TestCommitPathOrder(t *testing.T) {
	// lexical order of archive paths must match revision order
	prev := GetArchivePathToCommit("p", "r", 1)
	for rev := Revision(2); rev < 12; rev++ {
		next := GetArchivePathToCommit("p", "r", rev)
		assert.Less(t, prev, next)
		prev = next
	}
}
