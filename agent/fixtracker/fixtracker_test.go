package fixtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureStableUnderFileOrder(t *testing.T) {
	a := Signature("test", "assertion failure", []string{"a.py", "b.py"})
	b := Signature("test", "assertion failure", []string{"b.py", "a.py"})
	assert.Equal(t, a, b)
}

func TestRecursAfterTwoAttempts(t *testing.T) {
	tr := New()
	sig := Signature("lint", "unused import", []string{"main.go"})

	tr.Record(sig)
	assert.False(t, tr.Recurs(sig))

	tr.Record(sig)
	assert.True(t, tr.Recurs(sig))
}

func TestDistinctSignaturesDoNotCollide(t *testing.T) {
	sig1 := Signature("lint", "unused import", []string{"main.go"})
	sig2 := Signature("lint", "unused import", []string{"other.go"})
	assert.NotEqual(t, sig1, sig2)
}
