// Package model describes the base objects manipulated by treeline.
//
// The package exposes a model for metadata.
//
// The object model for treeline is composed of:
//
//	Projects:
//	  A project groups related repositories under one name. Every project
//	  owns a reserved "meta" repository for administrative documents.
//
//	Repositories:
//	  A repository is an append-only sequence of commits over a tree of
//	  configuration files. Revision 1 is the empty commit created together
//	  with the repository.
//
//	Commits:
//	  A commit is an atomic, conflict-checked change set. Applying commit N
//	  to the tree at revision N-1 yields the tree at revision N.
//
//	Commands:
//	  A command is the replicated envelope every cluster mutation travels
//	  in. The command log assigns each command a gapless index which is the
//	  only ordering between nodes.
package model
