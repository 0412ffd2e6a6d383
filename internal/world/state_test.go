package world

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestStatusBoard(t *testing.T) {
	b := NewStatusBoard(zap.NewNop())

	assert.Equal(t, StateIdle, b.Get("zari").State)

	b.Set("zari", StateDeciding, 1)
	b.Set("zari", StateExecuting, 1)
	b.Set("yuki", StateEnded, 3)

	s := b.Get("zari")
	assert.Equal(t, StateExecuting, s.State)
	assert.Equal(t, 1, s.Round)
	assert.False(t, s.UpdatedAt.IsZero())

	all := b.All()
	sort.Slice(all, func(i, j int) bool { return all[i].AgentID < all[j].AgentID })
	assert.Len(t, all, 2)
	assert.Equal(t, "yuki", all[0].AgentID)
	assert.Equal(t, StateEnded, all[0].State)
}
