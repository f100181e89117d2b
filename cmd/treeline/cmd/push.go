package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/web"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Commit changes to a repository",
	Long: `Commit a set of changes to a repository as one atomic commit.

All changes land together or not at all. The server checks the base revision
against the actual head: late changes that do not overlap the commits in
between are rebased onto the head, overlapping ones are rejected with a
conflict. A push that would leave the tree unchanged is rejected as
redundant.`,
	Example: `% treeline push --project payment-platform --repo gateway \
    --summary "raise upstream timeouts" \
    --upsert /gateway/timeouts.json=timeouts.json \
    --remove /gateway/legacy.json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()

		author, err := resolveAuthor()
		if err != nil {
			wrapFatalln("resolve author", err)
			return
		}
		changes, err := collectChanges(treelineFlags)
		if err != nil {
			wrapFatalln("collect changes", err)
			return
		}
		client, err := newAPIClient(remoteURL())
		if err != nil {
			wrapFatalln("resolve remote", err)
			return
		}
		confirmed, err := client.push(ctx, treelineFlags.project.name, treelineFlags.repo.name, web.PushRequest{
			BaseRevision: model.Revision(treelineFlags.push.baseRevision),
			Author:       author,
			Summary:      treelineFlags.push.summary,
			Detail:       treelineFlags.push.detail,
			Changes:      changes,
		})
		if err != nil {
			wrapFatalln("push", err)
			return
		}
		infoLogger.Printf("pushed revision %d at %s", confirmed.Revision, confirmed.Timestamp.Format(time.RFC3339))
	},
}

// collectChanges assembles the commit from the repeatable change flags:
// upserts first, then removals, then renames.
func collectChanges(flags flagsT) ([]model.Change, error) {
	changes := make([]model.Change, 0, len(flags.push.upserts)+len(flags.push.removals)+len(flags.push.renames))
	for _, spec := range flags.push.upserts {
		change, err := parseUpsert(spec)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	for _, pth := range flags.push.removals {
		changes = append(changes, model.Change{Path: ensureLeadingSlash(pth), Kind: model.ChangeKindRemove})
	}
	for _, spec := range flags.push.renames {
		change, err := parseRename(spec)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("empty push: pass at least one --upsert, --remove or --rename")
	}
	return changes, nil
}

// parseUpsert turns "/path/in/repo=localfile" into an upsert change whose
// content is the local file's bytes.
func parseUpsert(spec string) (model.Change, error) {
	pth, file, found := strings.Cut(spec, "=")
	if !found || pth == "" || file == "" {
		return model.Change{}, fmt.Errorf("upsert %q: want /path/in/repo=localfile", spec)
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return model.Change{}, fmt.Errorf("upsert %q: %w", spec, err)
	}
	return model.Change{Path: ensureLeadingSlash(pth), Kind: model.ChangeKindUpsert, Content: content}, nil
}

func parseRename(spec string) (model.Change, error) {
	from, to, found := strings.Cut(spec, "=")
	if !found || from == "" || to == "" {
		return model.Change{}, fmt.Errorf("rename %q: want /old/path=/new/path", spec)
	}
	return model.Change{Path: ensureLeadingSlash(from), Kind: model.ChangeKindRename, NewPath: ensureLeadingSlash(to)}, nil
}

func ensureLeadingSlash(pth string) string {
	if !strings.HasPrefix(pth, "/") {
		return "/" + pth
	}
	return pth
}

func init() {
	requiredFlags := []string{addProjectFlag(pushCmd)}
	requiredFlags = append(requiredFlags, addRepoFlag(pushCmd))
	requiredFlags = append(requiredFlags, addSummaryFlag(pushCmd))

	addBaseRevisionFlag(pushCmd)
	addDetailFlag(pushCmd)
	addUpsertFlag(pushCmd)
	addRemoveFlag(pushCmd)
	addRenameFlag(pushCmd)
	addAuthorNameFlag(pushCmd)
	addAuthorEmailFlag(pushCmd)

	for _, flag := range requiredFlags {
		if err := pushCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	rootCmd.AddCommand(pushCmd)
}
