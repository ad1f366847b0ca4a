package attribution_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dex-analysis/internal/attribution"
	"github.com/dex-analysis/internal/dex"
	"github.com/dex-analysis/internal/testutil"
)

func parse(t *testing.T, data []byte) *dex.Model {
	t.Helper()
	m, err := dex.Parse(dex.Blob{Path: "classes.dex", Data: data})
	require.NoError(t, err)
	return m
}

func attribute(t *testing.T, data []byte, opts attribution.Options) []attribution.SizeRecord {
	t.Helper()
	return attribution.NewAttributor(opts).Attribute(parse(t, data)).Records
}

func byName(recs []attribution.SizeRecord) map[string]attribution.SizeRecord {
	out := make(map[string]attribution.SizeRecord, len(recs))
	for _, r := range recs {
		out[r.Class] = r
	}
	return out
}

// bareClassSize is the size of a class with no data and no supertypes:
// class_def, type_id, string_id and string_data for its descriptor.
func bareClassSize(desc string) uint64 {
	return 32 + 4 + 4 + uint64(1+len(desc)+1)
}

func TestAttribute_SumNeverExceedsBlob(t *testing.T) {
	for _, data := range [][]byte{testutil.SampleDex(), testutil.SecondDex()} {
		for _, g := range []attribution.Granularity{
			attribution.GranularityPackage, attribution.GranularityClass, attribution.GranularityMethod,
		} {
			for _, mode := range []attribution.MethodSharedMode{attribution.MethodSharedFirstOwner, attribution.MethodSharedClass} {
				recs := attribute(t, data, attribution.Options{Granularity: g, MethodSharedEntries: mode})
				var sum uint64
				for _, r := range recs {
					sum += r.Size
					var methods uint64
					for _, mr := range r.Methods {
						methods += mr.Size
					}
					assert.Equal(t, r.OwnSize+methods, r.Size, r.Class)
				}
				assert.LessOrEqual(t, sum, uint64(len(data)), "granularity %s mode %s", g, mode)
				assert.Greater(t, sum, uint64(0))
			}
		}
	}
}

func TestAttribute_ClaimedMatchesRecords(t *testing.T) {
	for _, g := range []attribution.Granularity{attribution.GranularityClass, attribution.GranularityMethod} {
		data := testutil.SampleDex()
		out := attribution.NewAttributor(attribution.Options{Granularity: g}).Attribute(parse(t, data))

		var sum uint64
		for _, r := range out.Records {
			sum += r.Size
		}
		assert.Equal(t, sum, out.Claimed, "granularity %s", g)
		assert.LessOrEqual(t, out.Claimed, uint64(len(data)))
	}
}

func TestAttribute_ClassWithoutData(t *testing.T) {
	b := testutil.NewDexBuilder()
	b.Class("a.A")
	recs := attribute(t, b.Build(), attribution.Options{})

	require.Len(t, recs, 1)
	assert.Equal(t, "a.A", recs[0].Class)
	assert.Equal(t, bareClassSize("La/A;"), recs[0].Size)
	assert.Equal(t, uint64(47), recs[0].Size)
	assert.Equal(t, 0, recs[0].DefinedMethods)
	assert.Nil(t, recs[0].Methods)
}

func TestAttribute_RoundTripKnownSizes(t *testing.T) {
	names := []string{"p.A", "p.Bee", "q.r.Cat", "Top"}
	b := testutil.NewDexBuilder()
	for _, n := range names {
		b.Class(n)
	}
	recs := attribute(t, b.Build(), attribution.Options{})

	require.Len(t, recs, len(names))
	for i, n := range names {
		assert.Equal(t, n, recs[i].Class)
		assert.Equal(t, i, recs[i].ClassIndex)
		assert.Equal(t, bareClassSize(testutil.ClassDescriptor(n)), recs[i].Size, n)
	}
}

// sharedConstantDex defines two classes in different packages whose static
// String fields hold the same constant.
func sharedConstantDex(first, second string) []byte {
	b := testutil.NewDexBuilder()
	b.Class(first).StaticString("A", "shared-constant")
	b.Class(second).StaticString("B", "shared-constant")
	return b.Build()
}

// Shared entries go to the first class in table order. The class walked
// second pays only for what it owns alone: class_def 32, its type 15,
// class_data 6, static values 3, field_id 8 and the field name 7. The
// first class also pays for java.lang.String (28) and the constant (21).
func TestAttribute_SharedStringGoesToFirstOwner(t *testing.T) {
	const exclusive, shared = 71, 49

	recs := byName(attribute(t, sharedConstantDex("p.X", "q.Y"), attribution.Options{}))
	assert.Equal(t, uint64(exclusive+shared), recs["p.X"].Size)
	assert.Equal(t, uint64(exclusive), recs["q.Y"].Size)

	recs = byName(attribute(t, sharedConstantDex("q.Y", "p.X"), attribution.Options{}))
	assert.Equal(t, uint64(exclusive+shared), recs["q.Y"].Size)
	assert.Equal(t, uint64(exclusive), recs["p.X"].Size)
}

func TestAttribute_AnnotationBytesGoToAnnotatedClass(t *testing.T) {
	plain := testutil.NewDexBuilder()
	plain.Class("a.A")
	annotated := testutil.NewDexBuilder()
	annotated.Class("a.A").Annotate("a.M")

	before := attribute(t, plain.Build(), attribution.Options{})[0].Size
	after := attribute(t, annotated.Build(), attribution.Options{})[0].Size
	// directory 16, set 8, item 3, plus type a.M with its descriptor 15
	assert.Equal(t, uint64(16+8+3+15), after-before)
}

func TestAttribute_MethodGranularity(t *testing.T) {
	data := testutil.SampleDex()
	classLevel := byName(attribute(t, data, attribution.Options{Granularity: attribution.GranularityClass}))
	perMethod := byName(attribute(t, data, attribution.Options{
		Granularity:         attribution.GranularityMethod,
		MethodSharedEntries: attribution.MethodSharedClass,
	}))
	firstOwner := byName(attribute(t, data, attribution.Options{Granularity: attribution.GranularityMethod}))

	foo := perMethod["a.b.Foo"]
	require.Len(t, foo.Methods, 2)
	assert.Equal(t, "void <init>()", foo.Methods[0].Name)
	assert.Equal(t, "int run(int)", foo.Methods[1].Name)
	// code_item only: 16 byte header plus 4 code units
	assert.Equal(t, uint64(16+8), foo.Methods[0].Size)
	// code_item of 10 units plus a 10 byte debug_info_item
	assert.Equal(t, uint64(16+20+10), foo.Methods[1].Size)

	fooFirst := firstOwner["a.b.Foo"]
	assert.Greater(t, fooFirst.Methods[1].Size, foo.Methods[1].Size)
	assert.Less(t, fooFirst.OwnSize, foo.OwnSize)

	for name, rec := range classLevel {
		assert.Equal(t, rec.Size, perMethod[name].Size, name)
		assert.Equal(t, rec.Size, firstOwner[name].Size, name)
		assert.Nil(t, rec.Methods)
	}
}

func TestAttribute_MethodCounts(t *testing.T) {
	recs := byName(attribute(t, testutil.SampleDex(), attribution.Options{}))

	assert.Equal(t, 2, recs["a.b.Foo"].DefinedMethods)
	assert.Equal(t, 2, recs["a.b.Foo"].ReferencedMethods)
	assert.Equal(t, 1, recs["a.b.Bar"].DefinedMethods)
	assert.Equal(t, 1, recs["a.c.Baz"].ReferencedMethods)
}

func TestAttribute_UnreadableName(t *testing.T) {
	b := testutil.NewDexBuilder()
	b.RawString("La/Bad;", []byte{'L', 0xff, ';'})
	b.Class("a.Bad")
	b.Class("a.Good")
	recs := attribute(t, b.Build(), attribution.Options{})

	require.Len(t, recs, 2)
	assert.True(t, recs[0].UnreadableName)
	assert.Equal(t, "<unreadable string #0>", recs[0].Class)
	// nominal string size: prefix, three raw bytes, terminator
	assert.Equal(t, uint64(32+4+4+5), recs[0].Size)
	assert.False(t, recs[1].UnreadableName)
}

func TestAttribute_Deterministic(t *testing.T) {
	data := testutil.SampleDex()
	a := attribution.NewAttributor(attribution.Options{Granularity: attribution.GranularityMethod})
	assert.Equal(t, a.Attribute(parse(t, data)), a.Attribute(parse(t, data)))
	assert.Equal(t, attribution.GranularityMethod, a.Granularity())
}
