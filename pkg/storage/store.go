package storage

import (
	"context"
	"io"
)

const (
	// NoOverWrite makes Put fail when the key already exists
	NoOverWrite = true

	// OverWrite makes Put overwrite an existing key
	OverWrite = false
)

// Store implementations know how to write entries to a K/V store.
//
// Typically this is something file system-like. Implementations of this
// interface are assumed to be fairly simple.
type Store interface {
	String() string
	Has(context.Context, string) (bool, error)
	Get(context.Context, string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, source io.Reader, doesNotExist bool) error
	Delete(context.Context, string) error
	Keys(context.Context) ([]string, error)
	KeysPrefix(ctx context.Context, token, prefix, delimiter string, count int) (keys []string, next string, err error)
	Clear(context.Context) error
}

// PipeIO copies a reader to a writer through a pipe
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	pr, pw := io.Pipe()
	errC := make(chan error, 1)
	go func() {
		defer pw.Close()
		_, perr := io.Copy(pw, reader)
		errC <- perr
	}()
	written, err := io.Copy(writer, pr)
	if err != nil {
		return 0, err
	}
	if perr := <-errC; perr != nil {
		return written, perr
	}
	return written, nil
}
