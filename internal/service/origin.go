package service

import "context"

type originKey struct{}

// WithOrigin marks ctx as acting for clientID. Mutations made under an
// origin are published with it, so that client gets no echo of its own
// write.
func WithOrigin(ctx context.Context, clientID string) context.Context {
	if clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, clientID)
}

// OriginFrom returns the client id ctx acts for, or "".
func OriginFrom(ctx context.Context) string {
	id, _ := ctx.Value(originKey{}).(string)
	return id
}
