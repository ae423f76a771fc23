// Package host is the narrow view the installer has of the machine it
// mutates: file access, identity and capacity queries. Package management and
// service control go through the executor instead.
package host

import (
	"context"
	"errors"
	"os"

	"github.com/brimblehq/mediastack/internal/types"
)

// ErrNoSuchUser is returned by LookupUser when the account does not exist.
var ErrNoSuchUser = errors.New("no such user")

type Host interface {
	EffectiveUID(ctx context.Context) (int, error)
	// ReadFile returns an error satisfying errors.Is(err, os.ErrNotExist)
	// when path is missing.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte, perm os.FileMode) error
	RemoveFile(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	// FreeSpace reports the bytes available to unprivileged writers on the
	// filesystem holding path, or its nearest existing parent.
	FreeSpace(ctx context.Context, path string) (uint64, error)
	LookPath(ctx context.Context, name string) (string, error)
	LookupUser(ctx context.Context, name string) (types.Owner, error)
	Kernel(ctx context.Context) (string, error)
	PrimaryAddress(ctx context.Context) (string, error)
}
