package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		id       string
		expected bool
	}{
		{
			name:     "no identity",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "empty identity",
			ctx:      WithIdentity(context.Background(), ""),
			expected: false,
		},
		{
			name:     "identity set",
			ctx:      WithIdentity(context.Background(), secondID),
			id:       secondID,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			id, ok := Identity(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected Identity to return %v", tc.expected)
			assert.Equal(t, tc.id, id)
		})
	}
}
