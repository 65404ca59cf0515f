package winarg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuote(t *testing.T) {
	cases := []struct {
		name string
		arg  string
		want string
	}{
		{"plain", `hello`, `hello`},
		{"empty", ``, `""`},
		{"space only gets simple wrap", `hello world`, `"hello world"`},
		{"backslashes alone need no quoting", `C:\path\to\file`, `C:\path\to\file`},
		{"embedded quote is escaped", `a"b`, `"a\"b"`},
		{"trailing backslash run doubles before closing quote", `a b\`, `"a b\\"`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Quote(c.arg, false))
		})
	}
}

func TestQuoteVerbatimPassesThrough(t *testing.T) {
	assert.Equal(t, `anything "goes`, Quote(`anything "goes`, true))
}

func TestJoin(t *testing.T) {
	got := Join([]string{"prog", "hello world", `a"b`}, false)
	assert.Equal(t, `prog "hello world" "a\"b"`, got)
}

func TestJoinEmpty(t *testing.T) {
	assert.Equal(t, "", Join(nil, false))
}
