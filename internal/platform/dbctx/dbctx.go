package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

// Of wraps a plain context with no transaction.
func Of(ctx context.Context) Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return Context{Ctx: ctx}
}

func (c Context) WithTx(tx *gorm.DB) Context {
	c.Tx = tx
	return c
}
