package gateway

import "context"

// TransferGateway moves fungible value between two accounts. A
// transfer either fully applies or fully fails; idempotency is not
// assumed, so callers must only retry transfers they can prove were
// not applied.
type TransferGateway interface {
	Transfer(ctx context.Context, from, to, asset string, amount int64) error
}
