package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// CommandType discriminates the mutations carried by the command log.
type CommandType string

const (
	// CommandCreateProject creates a project and its meta repository
	CommandCreateProject CommandType = "create-project"

	// CommandCreateRepository creates a repository with its initial empty commit
	CommandCreateRepository CommandType = "create-repository"

	// CommandPush applies a conflict-checked change set to a repository
	CommandPush CommandType = "push"
)

// Command is the replicated envelope every cluster mutation travels in.
//
// Index is assigned by the command log on append and is zero until then; it
// is the only ordering between nodes. ID identifies the proposal across
// retries and nodes.
type Command struct {
	Index       uint64          `json:"index,omitempty" yaml:"index,omitempty"`
	ID          string          `json:"id" yaml:"id"`
	Type        CommandType     `json:"type" yaml:"type"`
	Proposer    string          `json:"proposer,omitempty" yaml:"proposer,omitempty"`
	SubmittedAt int64           `json:"submittedAtMillis,omitempty" yaml:"submittedAtMillis,omitempty"`
	Payload     json.RawMessage `json:"payload" yaml:"payload"`
	_           struct{}
}

// CreateProjectCommand is the payload of a create-project command
type CreateProjectCommand struct {
	Name   string      `json:"name"`
	Author Contributor `json:"author"`
	_      struct{}
}

// CreateRepositoryCommand is the payload of a create-repository command
type CreateRepositoryCommand struct {
	Project string      `json:"project"`
	Name    string      `json:"name"`
	Author  Contributor `json:"author"`
	_       struct{}
}

// PushCommand is the payload of a push command.
//
// The commit it carries was fully resolved by the proposing node: the
// revision and tree hash are pinned, and every node applies it as is. A node
// whose replay disagrees with the pinned hash has diverged.
type PushCommand struct {
	Commit CommitDescriptor `json:"commit"`
	_      struct{}
}

// NewCommand wraps a typed payload into a command envelope with a fresh
// K-sortable ID and the submission timestamp.
func NewCommand(t CommandType, proposer string, payload interface{}) (Command, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("cannot marshal %s payload: %w", t, err)
	}
	id, err := ksuid.NewRandom()
	if err != nil {
		return Command{}, fmt.Errorf("cannot generate command ID: %w", err)
	}
	return Command{
		ID:          id.String(),
		Type:        t,
		Proposer:    proposer,
		SubmittedAt: time.Now().UnixMilli(),
		Payload:     b,
	}, nil
}

// DecodePayload unmarshals the typed payload of the command
func (c Command) DecodePayload(into interface{}) error {
	if err := json.Unmarshal(c.Payload, into); err != nil {
		return fmt.Errorf("cannot decode %s payload: %w", c.Type, err)
	}
	return nil
}

// MarshalCommand marshals a command for the log
func MarshalCommand(c Command) ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalCommand unmarshals a command from the log
func UnmarshalCommand(b []byte) (Command, error) {
	if b == nil {
		return Command{}, fmt.Errorf("received nil command to unmarshal")
	}
	var c Command
	err := json.Unmarshal(b, &c)
	return c, err
}
