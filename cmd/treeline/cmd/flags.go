package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

type flagsT struct {
	root struct {
		remote string
	}
	author struct {
		name  string
		email string
	}
	project struct {
		name string
	}
	repo struct {
		name string
	}
	push struct {
		baseRevision int64
		summary      string
		detail       string
		upserts      []string
		removals     []string
		renames      []string
	}
	entry struct {
		path     string
		revision int64
	}
	history struct {
		from       int64
		to         int64
		maxCommits int
	}
	watch struct {
		lastKnown int64
		timeout   time.Duration
	}
	server struct {
		config string
	}
	core struct {
		Template string
	}
}

var treelineFlags = flagsT{}

func addRemoteFlag(cmd *cobra.Command) string {
	remote := "remote"
	cmd.PersistentFlags().StringVar(&treelineFlags.root.remote, remote, "",
		"Base URL of the treeline server. Defaults to the \"remote\" key of the config file, or localhost:36462")
	return remote
}

func addTemplateFlag(cmd *cobra.Command) string {
	format := "format"
	cmd.PersistentFlags().StringVar(&treelineFlags.core.Template, format, "",
		"Pretty-print descriptors with a custom go template")
	return format
}

func addProjectNameFlag(cmd *cobra.Command) string {
	name := "name"
	cmd.Flags().StringVarP(&treelineFlags.project.name, name, "n", "", "The name of the project")
	return name
}

func addProjectFlag(cmd *cobra.Command) string {
	project := "project"
	cmd.Flags().StringVar(&treelineFlags.project.name, project, "", "The project owning the repository")
	return project
}

func addRepoNameFlag(cmd *cobra.Command) string {
	name := "name"
	cmd.Flags().StringVarP(&treelineFlags.repo.name, name, "n", "", "The name of the repository")
	return name
}

func addRepoFlag(cmd *cobra.Command) string {
	repo := "repo"
	cmd.Flags().StringVar(&treelineFlags.repo.name, repo, "", "The repository to operate on")
	return repo
}

func addAuthorNameFlag(cmd *cobra.Command) string {
	authorName := "author-name"
	cmd.Flags().StringVar(&treelineFlags.author.name, authorName, "",
		"Name of the author. Defaults to the \"author.name\" key of the config file")
	return authorName
}

func addAuthorEmailFlag(cmd *cobra.Command) string {
	authorEmail := "author-email"
	cmd.Flags().StringVar(&treelineFlags.author.email, authorEmail, "",
		"Email of the author. Defaults to the \"author.email\" key of the config file")
	return authorEmail
}

func addBaseRevisionFlag(cmd *cobra.Command) string {
	base := "base"
	cmd.Flags().Int64Var(&treelineFlags.push.baseRevision, base, 0,
		"The revision this push was prepared against. 0 means the current head")
	return base
}

func addSummaryFlag(cmd *cobra.Command) string {
	summary := "summary"
	cmd.Flags().StringVarP(&treelineFlags.push.summary, summary, "m", "", "One-line description of the commit")
	return summary
}

func addDetailFlag(cmd *cobra.Command) string {
	detail := "detail"
	cmd.Flags().StringVar(&treelineFlags.push.detail, detail, "", "Extended description of the commit")
	return detail
}

func addUpsertFlag(cmd *cobra.Command) string {
	upsert := "upsert"
	cmd.Flags().StringArrayVar(&treelineFlags.push.upserts, upsert, nil,
		"Create or replace an entry, as /path/in/repo=localfile. Repeatable")
	return upsert
}

func addRemoveFlag(cmd *cobra.Command) string {
	remove := "remove"
	cmd.Flags().StringArrayVar(&treelineFlags.push.removals, remove, nil,
		"Remove the entry or directory at this path. Repeatable")
	return remove
}

func addRenameFlag(cmd *cobra.Command) string {
	rename := "rename"
	cmd.Flags().StringArrayVar(&treelineFlags.push.renames, rename, nil,
		"Move an entry or directory, as /old/path=/new/path. Repeatable")
	return rename
}

func addPathFlag(cmd *cobra.Command) string {
	path := "path"
	cmd.Flags().StringVar(&treelineFlags.entry.path, path, "", "The entry path inside the repository, like /service/db.json")
	return path
}

func addRevisionFlag(cmd *cobra.Command) string {
	revision := "revision"
	cmd.Flags().Int64Var(&treelineFlags.entry.revision, revision, 0, "The revision to read. 0 means the current head")
	return revision
}

func addFromFlag(cmd *cobra.Command, usage string) string {
	from := "from"
	cmd.Flags().Int64Var(&treelineFlags.history.from, from, 0, usage)
	return from
}

func addToFlag(cmd *cobra.Command, usage string) string {
	to := "to"
	cmd.Flags().Int64Var(&treelineFlags.history.to, to, 0, usage)
	return to
}

func addMaxCommitsFlag(cmd *cobra.Command) string {
	maxCommits := "max-commits"
	cmd.Flags().IntVar(&treelineFlags.history.maxCommits, maxCommits, 0,
		"Cap the number of commits listed. 0 means no cap")
	return maxCommits
}

func addLastKnownFlag(cmd *cobra.Command) string {
	lastKnown := "last-known"
	cmd.Flags().Int64Var(&treelineFlags.watch.lastKnown, lastKnown, 0,
		"The last head revision already seen. The watch answers once the head moves past it")
	return lastKnown
}

func addWatchTimeoutFlag(cmd *cobra.Command) string {
	timeout := "timeout"
	cmd.Flags().DurationVar(&treelineFlags.watch.timeout, timeout, 0,
		"How long the server may hold the watch open. 0 means the server default")
	return timeout
}

func addServerConfigFlag(cmd *cobra.Command) string {
	configFile := "config"
	cmd.Flags().StringVar(&treelineFlags.server.config, configFile, "", "Path to the server configuration file")
	return configFile
}
