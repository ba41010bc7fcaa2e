package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScope_DeriveIsolation(t *testing.T) {
	root := NewScope()
	root.Set("today", String("root"))
	root.Set("a", Int(1))

	child := root.Derive()
	sibling := root.Derive()

	child.Set("b", Int(2))
	child.Set("today", String("shadow"))

	v, ok := child.Lookup("a")
	assert.True(t, ok)
	assert.True(t, Equal(Int(1), v))

	v, _ = child.Lookup("today")
	assert.Equal(t, "shadow", v.String())

	v, _ = root.Lookup("today")
	assert.Equal(t, "root", v.String())

	assert.False(t, root.Has("b"))
	assert.False(t, sibling.Has("b"))

	grandchild := child.Derive()
	v, _ = grandchild.Lookup("today")
	assert.Equal(t, "shadow", v.String())
}

func TestScope_NamesOrder(t *testing.T) {
	root := NewScope()
	root.Set("z", Int(1))
	root.Set("a", Int(2))

	child := root.Derive()
	child.Set("m", Int(3))
	child.Set("z", Int(4))

	assert.Equal(t, []string{"z", "a", "m"}, child.Names())
	assert.Equal(t, []string{"m", "z"}, child.Local())

	snap := child.Snapshot()
	v, _ := snap.Get("z")
	assert.True(t, Equal(Int(4), v))
}
