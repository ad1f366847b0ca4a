package dex

import "strings"

var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// DecodeDescriptor turns a type descriptor into its Java source name:
// "Lfoo/Bar;" is "foo.Bar", "[[I" is "int[][]". Anything unrecognized is
// returned unchanged.
func DecodeDescriptor(d string) string {
	dims := 0
	for dims < len(d) && d[dims] == '[' {
		dims++
	}
	if dims == len(d) {
		return d
	}

	var base string
	rest := d[dims:]
	if rest[0] == 'L' {
		if !strings.HasSuffix(rest, ";") || len(rest) < 3 {
			return d
		}
		base = strings.ReplaceAll(rest[1:len(rest)-1], "/", ".")
	} else {
		name, ok := primitiveNames[rest[0]]
		if !ok || len(rest) != 1 {
			return d
		}
		base = name
	}
	return base + strings.Repeat("[]", dims)
}
