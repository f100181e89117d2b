package cmd

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/treelinehq/treeline/pkg/model"
)

// Default one-line renditions of the descriptors, overridable with --format.
const (
	projectDescriptorRow = `{{.Name}} , {{.Creator.Name}} , {{.Creator.Email}} , {{.Timestamp}}`
	repoDescriptorRow    = `{{.Name}} , {{.Creator.Name}} , {{.Creator.Email}} , {{.Timestamp}}`
	commitDescriptorRow  = `{{.Revision}} , {{.Summary}} , {{.Author.Name}} , {{.Author.Email}} , {{.Timestamp}}`
	entryRow             = `{{.Kind}} , {{.Path}}`
	changeRow            = `{{.Kind}} , {{.Path}}{{if .NewPath}} -> {{.NewPath}}{{end}}`
)

func descriptorTemplate(name, row string, flags flagsT) *template.Template {
	if flags.core.Template != "" {
		row = flags.core.Template
	}
	return template.Must(template.New(name).Parse(row))
}

func projectDescriptorTemplate(flags flagsT) *template.Template {
	return descriptorTemplate("project descriptor", projectDescriptorRow, flags)
}

func repoDescriptorTemplate(flags flagsT) *template.Template {
	return descriptorTemplate("repo descriptor", repoDescriptorRow, flags)
}

func commitDescriptorTemplate(flags flagsT) *template.Template {
	return descriptorTemplate("commit descriptor", commitDescriptorRow, flags)
}

func entryTemplate(flags flagsT) *template.Template {
	return descriptorTemplate("entry", entryRow, flags)
}

func changeTemplate(flags flagsT) *template.Template {
	return descriptorTemplate("change", changeRow, flags)
}

func applyProjectTemplate(pd model.ProjectDescriptor) error {
	var buf bytes.Buffer
	if err := projectDescriptorTemplate(treelineFlags).Execute(&buf, pd); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	infoLogger.Println(buf.String())
	return nil
}

func applyRepoTemplate(rd model.RepoDescriptor) error {
	var buf bytes.Buffer
	if err := repoDescriptorTemplate(treelineFlags).Execute(&buf, rd); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	infoLogger.Println(buf.String())
	return nil
}

func applyCommitTemplate(cd model.CommitDescriptor) error {
	var buf bytes.Buffer
	if err := commitDescriptorTemplate(treelineFlags).Execute(&buf, cd); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	infoLogger.Println(buf.String())
	return nil
}

func applyEntryTemplate(entry model.Entry) error {
	var buf bytes.Buffer
	if err := entryTemplate(treelineFlags).Execute(&buf, entry); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	infoLogger.Println(buf.String())
	return nil
}

func applyChangeTemplate(change model.Change) error {
	var buf bytes.Buffer
	if err := changeTemplate(treelineFlags).Execute(&buf, change); err != nil {
		return fmt.Errorf("executing template: %w", err)
	}
	infoLogger.Println(buf.String())
	return nil
}
