package repository

import "context"

// Tx runs a function inside a storage transaction. Repository calls made
// within fn join the same transaction through the context.
type Tx interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
