package model

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// descriptor files (object metadata)
	projectDescriptorFile = "project.yaml"
	repoDescriptorFile    = "repo.yaml"
	commitDescriptorFile  = "commit.yaml"

	commitDirDigits = 16
)

// GetArchivePathToProjectDescriptor yields the path to a project descriptor.
func GetArchivePathToProjectDescriptor(project string) string {
	return fmt.Sprint("projects/", project, "/", projectDescriptorFile)
}

// GetArchivePathPrefixToProjects yields the path prefix under which all
// project descriptors live.
func GetArchivePathPrefixToProjects() string {
	return "projects/"
}

// GetArchivePathToRepoDescriptor yields the path to a repository descriptor.
func GetArchivePathToRepoDescriptor(project, repo string) string {
	return fmt.Sprint("repos/", project, "/", repo, "/", repoDescriptorFile)
}

// GetArchivePathPrefixToRepos yields the path prefix under which all of a
// project's repository descriptors live.
func GetArchivePathPrefixToRepos(project string) string {
	return fmt.Sprint("repos/", project, "/")
}

// GetArchivePathToCommit yields the path to a commit descriptor.
//
// The revision directory is zero-padded so lexical key order equals revision
// order when walking a store by prefix.
func GetArchivePathToCommit(project, repo string, revision Revision) string {
	return fmt.Sprint(GetArchivePathPrefixToCommits(project, repo),
		fmt.Sprintf("%0*d", commitDirDigits, revision), "/", commitDescriptorFile)
}

// GetArchivePathPrefixToCommits yields the path prefix under which all of a
// repository's commit descriptors live.
func GetArchivePathPrefixToCommits(project, repo string) string {
	return fmt.Sprint("commits/", project, "/", repo, "/")
}

// ArchivePathComponents defines the unique path parts to retrieve an
// archived descriptor.
type ArchivePathComponents struct {
	Project         string
	Repo            string
	Revision        Revision
	ArchiveFileName string
}

// GetArchivePathComponents yields all metadata components from a parsed archive path.
func GetArchivePathComponents(archivePath string) (ArchivePathComponents, error) {
	const (
		projectParts = 3 // as in: projects/{project}/project.yaml
		repoParts    = 4 // as in: repos/{project}/{repo}/repo.yaml
		commitParts  = 5 // as in: commits/{project}/{repo}/{revision}/commit.yaml
	)
	cs := strings.Split(archivePath, "/")
	switch cs[0] { // we always have at least 1 element

	case "projects":
		if len(cs) != projectParts || cs[2] != projectDescriptorFile {
			return ArchivePathComponents{},
				fmt.Errorf("path is invalid: expect path to project descriptor to have %d parts: %s", projectParts, archivePath)
		}
		return ArchivePathComponents{
			Project:         cs[1],
			ArchiveFileName: cs[2],
		}, nil

	case "repos":
		if len(cs) != repoParts || cs[3] != repoDescriptorFile {
			return ArchivePathComponents{},
				fmt.Errorf("path is invalid: expect path to repo descriptor to have %d parts: %s", repoParts, archivePath)
		}
		return ArchivePathComponents{
			Project:         cs[1],
			Repo:            cs[2],
			ArchiveFileName: cs[3],
		}, nil

	case "commits":
		if len(cs) != commitParts || cs[4] != commitDescriptorFile {
			return ArchivePathComponents{},
				fmt.Errorf("path is invalid: expect path to commit descriptor to have %d parts: %s", commitParts, archivePath)
		}
		if len(cs[3]) != commitDirDigits {
			return ArchivePathComponents{},
				fmt.Errorf("path is invalid: expect {revision} %q to have %d digits: %s", cs[3], commitDirDigits, archivePath)
		}
		rev, err := strconv.ParseInt(cs[3], 10, 64)
		if err != nil || rev < int64(InitialRevision) {
			return ArchivePathComponents{},
				fmt.Errorf("path is invalid: expect {revision} %q to be a positive decimal: %s", cs[3], archivePath)
		}
		return ArchivePathComponents{
			Project:         cs[1],
			Repo:            cs[2],
			Revision:        Revision(rev),
			ArchiveFileName: cs[4],
		}, nil

	default:
		return ArchivePathComponents{}, fmt.Errorf("path is invalid: %v, path: %s", cs, archivePath)
	}
}
