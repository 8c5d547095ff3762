package groutine

import (
	"context"
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoCarriesName(t *testing.T) {
	type result struct {
		name  string
		label string
	}
	done := make(chan result, 1)

	Go(context.Background(), "manager-loop", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		done <- result{name: Name(ctx), label: label}
	})

	got := <-done
	assert.Equal(t, "manager-loop", got.name)
	assert.Equal(t, "manager-loop", got.label)
}

func TestGoNilParent(t *testing.T) {
	done := make(chan string, 1)

	//nolint:staticcheck // nil parent is supported on purpose
	Go(nil, "worker", func(ctx context.Context) {
		done <- Name(ctx)
	})

	assert.Equal(t, "worker", <-done)
}

func TestNameWithoutLabel(t *testing.T) {
	assert.Empty(t, Name(context.Background()))
	//nolint:staticcheck
	assert.Empty(t, Name(nil))
}
