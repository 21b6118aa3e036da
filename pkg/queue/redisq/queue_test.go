package redisq

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnclaimedOrphans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		previous    map[string]struct{}
		processing  []string
		claims      map[string]string
		wantRequeue []string
		wantNext    map[string]struct{}
	}{
		{
			name:        "claimed entries are left alone",
			processing:  []string{"a", "b"},
			claims:      map[string]string{"a": "1", "b": "2"},
			wantRequeue: nil,
			wantNext:    map[string]struct{}{},
		},
		{
			name:        "first unclaimed sighting gets grace",
			processing:  []string{"a"},
			claims:      map[string]string{},
			wantRequeue: nil,
			wantNext:    map[string]struct{}{"a": {}},
		},
		{
			name:        "second unclaimed sighting is requeued",
			previous:    map[string]struct{}{"a": {}},
			processing:  []string{"a", "b"},
			claims:      map[string]string{},
			wantRequeue: []string{"a"},
			wantNext:    map[string]struct{}{"b": {}},
		},
		{
			name:        "entry claimed between sweeps is forgotten",
			previous:    map[string]struct{}{"a": {}},
			processing:  []string{"a"},
			claims:      map[string]string{"a": "1"},
			wantRequeue: nil,
			wantNext:    map[string]struct{}{},
		},
		{
			name:        "entry acked between sweeps is forgotten",
			previous:    map[string]struct{}{"a": {}},
			processing:  []string{},
			claims:      map[string]string{},
			wantRequeue: nil,
			wantNext:    map[string]struct{}{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			requeue, next := unclaimedOrphans(tt.previous, tt.processing, tt.claims)

			assert.Equal(t, tt.wantRequeue, requeue)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}
