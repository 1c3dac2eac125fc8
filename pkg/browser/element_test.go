package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestDescribe(t *testing.T) {
	assert.Equal(t, "input#inp[42]", describe("INPUT", "inp", "", "42"))
	assert.Equal(t, "div#id1.cls0.test0[7]", describe("DIV", "id1", " cls0  test0 ", "7"))
	assert.Equal(t, "span.a[x]", describe("span", "", "a", "x"))
	assert.Equal(t, "p[]", describe("p", "", "", ""))
}

func TestRect(t *testing.T) {
	r := Rect{X: 10, Y: 20, Width: 100, Height: 50}
	assert.Equal(t, 20.0, r.Top())
	assert.Equal(t, 70.0, r.Bottom())
	assert.Equal(t, 10.0, r.Left())
	assert.Equal(t, 110.0, r.Right())
	assert.Equal(t, proto.Point{X: 60, Y: 45}, r.Center())
}

func TestElementID_Empty(t *testing.T) {
	assert.Empty(t, (&Element{}).ID())
}
