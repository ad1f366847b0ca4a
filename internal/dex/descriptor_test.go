package dex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeDescriptor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Lfoo/Bar;", "foo.Bar"},
		{"Ljava/lang/String;", "java.lang.String"},
		{"La/B$C;", "a.B$C"},
		{"LTop;", "Top"},
		{"I", "int"},
		{"V", "void"},
		{"[I", "int[]"},
		{"[[Ljava/lang/Object;", "java.lang.Object[][]"},
		{"Q", "Q"},
		{"Lbroken", "Lbroken"},
		{"[", "["},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DecodeDescriptor(tt.in), tt.in)
	}
}
