// Package testutil provides DEX and APK fixtures and tree assertions for
// tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

// ZipEntry is one file written by WriteAPK.
type ZipEntry struct {
	Name string
	Data []byte
	// Store disables deflate compression for the entry.
	Store bool
}

// WriteAPK writes a zip container with the given entries, in order, into
// dir and returns its path.
func WriteAPK(t testing.TB, dir, name string, entries ...ZipEntry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create apk: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		method := zip.Deflate
		if e.Store {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method})
		if err != nil {
			t.Fatalf("failed to add %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			t.Fatalf("failed to write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish apk: %v", err)
	}
	return path
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t testing.TB, dir, filename string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

// CorruptStoredEntry flips the last byte of data inside the container at
// path. data must have been written with Store so it appears verbatim; the
// entry then fails its CRC-32 check.
func CorruptStoredEntry(t testing.TB, path string, data []byte) {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read apk: %v", err)
	}
	at := bytes.Index(content, data)
	if at < 0 {
		t.Fatalf("stored entry not found in %s", path)
	}
	content[at+len(data)-1] ^= 0xff
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to rewrite apk: %v", err)
	}
}

// SampleDex builds a small file with classes a.b.Foo, a.b.Bar and a.c.Baz.
// Foo and Baz both hold the string constant "shared", Foo first.
func SampleDex() []byte {
	b := NewDexBuilder()
	b.Class("a.b.Foo").
		Super("java.lang.Object").
		SourceFile("Foo.java").
		StaticString("NAME", "shared").
		InstanceField("count", "I").
		DirectMethod(Method{Name: "<init>", Insns: 4}).
		VirtualMethod(Method{Name: "run", Return: "I", Params: []string{"I"}, Insns: 10, Locals: []string{"tmp"}})
	b.Class("a.b.Bar").
		Super("a.b.Foo").
		VirtualMethod(Method{Name: "run", Return: "I", Params: []string{"I"}, Insns: 6, CatchTypes: []string{"Ljava/io/IOException;"}}).
		Annotate("a.b.Marker")
	b.Class("a.c.Baz").
		Implements("java.lang.Runnable").
		StaticString("LABEL", "shared").
		VirtualMethod(Method{Name: "run", Insns: 3})
	return b.Build()
}

// SecondDex builds a small file for the second blob of a multi-dex
// container: a.b.Qux and d.Main.
func SecondDex() []byte {
	b := NewDexBuilder()
	b.Class("a.b.Qux").VirtualMethod(Method{Name: "go", Insns: 8})
	b.Class("d.Main").
		DirectMethod(Method{Name: "main", Params: []string{"[Ljava/lang/String;"}, Insns: 12})
	return b.Build()
}
