package exectx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bottomsky/algotirhm-sdk/internal/exectx"
)

func TestBindAndSetResponseMeta(t *testing.T) {
	amb := exectx.New("r1", "t1", time.Now().UTC(), nil)
	ctx := exectx.Bind(context.Background(), amb)

	exectx.SetCode(ctx, 201)
	exectx.SetMessage(ctx, "created")
	exectx.SetResponseContext(ctx, map[string]any{"k": "v"})

	code, msg, rc := amb.Meta.Snapshot()
	assert.Equal(t, 201, *code)
	assert.Equal(t, "created", *msg)
	assert.Equal(t, "v", rc["k"])
}

func TestUnboundContextIsNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		exectx.SetCode(context.Background(), 201)
	})
	assert.Nil(t, exectx.From(context.Background()))
}
