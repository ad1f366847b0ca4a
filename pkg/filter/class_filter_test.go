package filter

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassFilter_Classify(t *testing.T) {
	f, err := NewClassFilter(nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		expected string
	}{
		{"android.app.Activity", "android"},
		{"android", "android"},
		{"dalvik.system.DexFile", "android"},
		{"androidx.core.app.ActivityCompat", "androidx"},
		{"android.support.v4.app.Fragment", "androidx"},
		{"com.google.gson.Gson", "google"},
		{"kotlin.collections.CollectionsKt", "kotlin"},
		{"kotlinx.coroutines.Job", "kotlin"},
		{"java.lang.String", "java"},
		{"okhttp3.OkHttpClient", "thirdparty"},
		{"com.example.app.MainActivity", "application"},
		{"androidxtra.Thing", "application"},
		{"Default", "application"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, f.Classify(tt.name))
		})
	}
}

func TestClassFilter_AddPrefix(t *testing.T) {
	f, err := NewClassFilter(nil)
	require.NoError(t, err)

	assert.Equal(t, "application", f.Classify("com.example.Foo"))
	f.AddPrefix("thirdparty", "com.example.")
	assert.Equal(t, "thirdparty", f.Classify("com.example.Foo"))

	f.AddPrefix("games", "com.example.game.")
	assert.Equal(t, "games", f.Classify("com.example.game.Level"))
	assert.Contains(t, f.Categories(), "games")
}

func TestClassFilter_Categories(t *testing.T) {
	f, err := NewClassFilter(nil)
	require.NoError(t, err)

	cats := f.Categories()
	assert.Equal(t, "application", cats[len(cats)-1])
	assert.Contains(t, cats, "kotlin")
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
default = "mine"

[[rule]]
category = "vendor"
prefixes = ["com.vendor."]
`), 0644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	f, err := NewClassFilter(rules)
	require.NoError(t, err)

	assert.Equal(t, "vendor", f.Classify("com.vendor.Sdk"))
	assert.Equal(t, "mine", f.Classify("android.app.Activity"))
	assert.Equal(t, []string{"vendor", "mine"}, f.Categories())
}

func TestLoadRules_Errors(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[rule]]\ncategory = \"x\"\n"), 0644))
	_, err = LoadRules(path)
	assert.ErrorContains(t, err, "missing default")
}

func TestClassFilter_Concurrent(t *testing.T) {
	f, err := NewClassFilter(nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, "kotlin", f.Classify("kotlin.Unit"))
			}
		}()
	}
	wg.Wait()

	size, maxSize := f.CacheStats()
	assert.Equal(t, 1, size)
	assert.Equal(t, 10000, maxSize)
}
