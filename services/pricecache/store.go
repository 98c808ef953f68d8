package pricecache

import "context"

// Store persists entries per symbol. Append never modifies earlier entries and
// Latest returns the most recently appended one, or nil when the symbol has
// never been stored. Both must be safe for concurrent use.
type Store interface {
	Latest(ctx context.Context, symbol string) (*Entry, error)
	Append(ctx context.Context, e Entry) error
}
