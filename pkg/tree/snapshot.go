package tree

import (
	iradix "github.com/hashicorp/go-immutable-radix/v2"

	"github.com/treelinehq/treeline/pkg/model"
	"github.com/treelinehq/treeline/pkg/tree/status"
)

// Snapshot is an immutable view of a repository tree at one revision.
//
// Snapshots share structure: applying a commit produces a new snapshot
// without copying untouched entries. File entries are stored explicitly;
// directories are implied by the files below them.
type Snapshot struct {
	project  string
	repo     string
	revision model.Revision
	files    *iradix.Tree[model.Entry]
	treeHash string
}

func newEmptySnapshot(project, repo string) (*Snapshot, error) {
	s := &Snapshot{
		project: project,
		repo:    repo,
		files:   iradix.New[model.Entry](),
	}
	var err error
	s.treeHash, err = model.Entries{}.Hash()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Project owning the repository
func (s *Snapshot) Project() string { return s.project }

// Repo this snapshot belongs to
func (s *Snapshot) Repo() string { return s.repo }

// Revision of the repository this snapshot captures
func (s *Snapshot) Revision() model.Revision { return s.revision }

// TreeHash identifies the tree content: two snapshots hash identically iff
// they hold the same paths with the same content
func (s *Snapshot) TreeHash() string { return s.treeHash }

// Len is the number of file entries
func (s *Snapshot) Len() int { return s.files.Len() }

// Get returns the entry at a normalized path. Directory entries are
// synthesized from the files below them and carry no content.
func (s *Snapshot) Get(pth string) (model.Entry, bool) {
	if e, ok := s.files.Get([]byte(pth)); ok {
		return e, true
	}
	if s.hasChildren(pth) {
		return model.Entry{Path: pth, Kind: model.EntryKindDirectory}, true
	}
	return model.Entry{}, false
}

// Files returns the file entries at or under a normalized path prefix, in
// path order. The root path "/" lists the whole tree.
func (s *Snapshot) Files(prefix string) model.Entries {
	var entries model.Entries
	if prefix == "" || prefix == "/" {
		it := s.files.Root().Iterator()
		for _, e, ok := it.Next(); ok; _, e, ok = it.Next() {
			entries = append(entries, e)
		}
		return entries
	}
	if e, ok := s.files.Get([]byte(prefix)); ok {
		entries = append(entries, e)
	}
	it := s.files.Root().Iterator()
	it.SeekPrefix([]byte(prefix + "/"))
	for _, e, ok := it.Next(); ok; _, e, ok = it.Next() {
		entries = append(entries, e)
	}
	return entries
}

func (s *Snapshot) hasChildren(pth string) bool {
	if pth == "/" {
		return s.files.Len() > 0
	}
	it := s.files.Root().Iterator()
	it.SeekPrefix([]byte(pth + "/"))
	_, _, ok := it.Next()
	return ok
}

// Apply returns the snapshot resulting from a list of normalized changes,
// one revision past s. The receiver is unchanged, so a failed or discarded
// application costs nothing.
func (s *Snapshot) Apply(changes []model.Change) (*Snapshot, error) {
	files, err := s.apply(changes)
	if err != nil {
		return nil, err
	}
	next := &Snapshot{
		project:  s.project,
		repo:     s.repo,
		revision: s.revision + 1,
		files:    files,
	}
	next.treeHash, err = next.Files("/").Hash()
	if err != nil {
		return nil, err
	}
	return next, nil
}

// apply materializes the tree resulting from a list of normalized changes.
// Changes see the effect of the changes before them in the same list.
func (s *Snapshot) apply(changes []model.Change) (*iradix.Tree[model.Entry], error) {
	txn := s.files.Txn()
	for _, change := range changes {
		var err error
		switch change.Kind {
		case model.ChangeKindUpsert:
			err = applyUpsert(txn, change)
		case model.ChangeKindRemove:
			err = applyRemove(txn, change)
		case model.ChangeKindRename:
			err = applyRename(txn, change)
		default:
			err = status.ErrCorruptDescriptor.WrapMessage("unknown change kind %q", change.Kind)
		}
		if err != nil {
			return nil, err
		}
	}
	return txn.Commit(), nil
}

func applyUpsert(txn *iradix.Txn[model.Entry], change model.Change) error {
	for _, parent := range model.ParentPaths(change.Path) {
		if _, ok := txn.Get([]byte(parent)); ok {
			return status.ErrPathThroughFile.WrapMessage("upsert %s below file %s", change.Path, parent)
		}
	}
	if _, ok := txn.Get([]byte(change.Path)); !ok && txnHasChildren(txn, change.Path) {
		return status.ErrPathExists.WrapMessage("upsert %s onto a directory", change.Path)
	}
	entry := model.Entry{
		Path:    change.Path,
		Kind:    model.EntryKindFile,
		Content: change.Content,
	}
	entry.Hash = entry.HashContent()
	txn.Insert([]byte(change.Path), entry)
	return nil
}

func applyRemove(txn *iradix.Txn[model.Entry], change model.Change) error {
	if _, ok := txn.Get([]byte(change.Path)); ok {
		txn.Delete([]byte(change.Path))
		return nil
	}
	keys := subtreeKeys(txn, change.Path)
	if len(keys) == 0 {
		return status.ErrPathNotFound.WrapMessage("remove %s", change.Path)
	}
	for _, k := range keys {
		txn.Delete(k)
	}
	return nil
}

func applyRename(txn *iradix.Txn[model.Entry], change model.Change) error {
	if _, ok := txn.Get([]byte(change.NewPath)); ok {
		return status.ErrPathExists.WrapMessage("rename %s onto existing %s", change.Path, change.NewPath)
	}
	if txnHasChildren(txn, change.NewPath) {
		return status.ErrPathExists.WrapMessage("rename %s onto existing directory %s", change.Path, change.NewPath)
	}
	for _, parent := range model.ParentPaths(change.NewPath) {
		if _, ok := txn.Get([]byte(parent)); ok {
			return status.ErrPathThroughFile.WrapMessage("rename %s below file %s", change.NewPath, parent)
		}
	}

	if src, ok := txn.Get([]byte(change.Path)); ok {
		txn.Delete([]byte(change.Path))
		moved := model.Entry{
			Path:    change.NewPath,
			Kind:    model.EntryKindFile,
			Content: src.Content,
		}
		moved.Hash = moved.HashContent()
		txn.Insert([]byte(change.NewPath), moved)
		return nil
	}

	keys := subtreeKeys(txn, change.Path)
	if len(keys) == 0 {
		return status.ErrPathNotFound.WrapMessage("rename %s", change.Path)
	}
	for _, k := range keys {
		src, _ := txn.Get(k)
		txn.Delete(k)
		moved := model.Entry{
			Path:    change.NewPath + src.Path[len(change.Path):],
			Kind:    model.EntryKindFile,
			Content: src.Content,
		}
		moved.Hash = moved.HashContent()
		txn.Insert([]byte(moved.Path), moved)
	}
	return nil
}

func txnHasChildren(txn *iradix.Txn[model.Entry], pth string) bool {
	it := txn.Root().Iterator()
	it.SeekPrefix([]byte(pth + "/"))
	_, _, ok := it.Next()
	return ok
}

func subtreeKeys(txn *iradix.Txn[model.Entry], pth string) [][]byte {
	var keys [][]byte
	it := txn.Root().Iterator()
	it.SeekPrefix([]byte(pth + "/"))
	for k, _, ok := it.Next(); ok; k, _, ok = it.Next() {
		kk := make([]byte, len(k))
		copy(kk, k)
		keys = append(keys, kk)
	}
	return keys
}
