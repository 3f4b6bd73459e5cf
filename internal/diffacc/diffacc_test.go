package diffacc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccumulatorAppendJoins(t *testing.T) {
	a := New()
	assert.True(t, a.Empty())

	joined := a.Append("frag1")
	assert.Equal(t, "frag1", joined)
	assert.False(t, a.Empty())

	joined = a.Append("frag2")
	assert.Equal(t, "frag1\n\nfrag2", joined)
	assert.Equal(t, "frag1\n\nfrag2", a.Joined())
}

func TestAccumulatorReset(t *testing.T) {
	a := New()
	a.Append("frag1")
	a.Reset()
	assert.True(t, a.Empty())
	assert.Equal(t, "", a.Joined())
}

func TestBuildFragmentWithDiffBody(t *testing.T) {
	got := BuildFragment("main.go", "edit", "@@ -1 +1 @@\n-old\n+new\n", "")
	assert.Equal(t, "--- a/main.go\n+++ b/main.go\n@@ -1 +1 @@\n-old\n+new\n", got)
}

func TestBuildFragmentSynthesizesCreation(t *testing.T) {
	got := BuildFragment("new.go", "create", "", "package main\nfunc main() {}")
	assert.Equal(t, "--- /dev/null\n+++ b/new.go\n@@ -0,0 +1,2 @@\n+package main\n+func main() {}", got)
}

func TestBuildFragmentReturnsEmptyWhenNothingToShow(t *testing.T) {
	assert.Equal(t, "", BuildFragment("file.go", "edit", "", ""))
	assert.Equal(t, "", BuildFragment("file.go", "create", "", ""))
}
