package outbound

import "context"

// TransactionManager runs a function inside one database transaction.
// Repository calls made with the given context join the transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
