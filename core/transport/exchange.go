package transport

import "context"

type exchangeKey struct{}

// WithExchange tags ctx with the exchange a Send belongs to. Channels that
// answer a Send directly copy it into the payload event.
func WithExchange(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, exchangeKey{}, id)
}

// ExchangeFrom returns the exchange ctx was tagged with, or zero.
func ExchangeFrom(ctx context.Context) uint64 {
	id, _ := ctx.Value(exchangeKey{}).(uint64)
	return id
}
