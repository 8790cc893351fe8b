package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	assert.True(t, IsAbort(Abortf("below minimum")))
	assert.True(t, IsTransient(Transientf("rpc timeout")))
	assert.True(t, IsFatal(Fatalf("ledger corrupt")))

	// 未分类错误按瞬时处理
	assert.True(t, IsTransient(errors.New("plain")))
	assert.Equal(t, KindTransient, KindOf(errors.New("plain")))

	// nil 不属于任何类
	assert.False(t, IsAbort(nil))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapTransient("balance fetch", cause)

	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, cause))

	// 分类穿透 fmt 包装
	wrapped := fmt.Errorf("step bid: %w", WrapAbort("no route", cause))
	assert.True(t, IsAbort(wrapped))
	assert.True(t, errors.Is(wrapped, cause))
}
