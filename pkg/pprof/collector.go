// Package pprof records runtime profiles of the analyzer itself for the
// duration of one command.
//
//	c := pprof.NewCollector("./pprof", pprof.DefaultProfileTypes())
//	if err := c.Start(); err != nil {
//	    return err
//	}
//	defer c.Stop()
package pprof

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"time"
)

// ProfileType defines the type of profile to collect.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileAllocs    ProfileType = "allocs"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
)

// AllProfileTypes returns all supported profile types.
func AllProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap, ProfileAllocs, ProfileGoroutine, ProfileBlock, ProfileMutex}
}

// DefaultProfileTypes returns the profiles collected when none are named.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap}
}

// ParseProfileTypes parses a comma-separated list such as "cpu,heap".
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}

	valid := make(map[ProfileType]bool)
	for _, pt := range AllProfileTypes() {
		valid[pt] = true
	}

	seen := make(map[ProfileType]bool)
	var types []ProfileType
	for _, p := range strings.Split(s, ",") {
		pt := ProfileType(strings.TrimSpace(strings.ToLower(p)))
		if !valid[pt] {
			return nil, fmt.Errorf("unknown profile type: %q", p)
		}
		if !seen[pt] {
			seen[pt] = true
			types = append(types, pt)
		}
	}
	return types, nil
}

// Collector profiles the process between Start and Stop. CPU is sampled for
// the whole window; every other profile is snapshotted at Stop.
type Collector struct {
	mu        sync.Mutex
	outputDir string
	profiles  []ProfileType
	stamp     string
	cpuFile   *os.File
	running   bool
}

// NewCollector creates a collector writing into outputDir.
func NewCollector(outputDir string, profiles []ProfileType) *Collector {
	if len(profiles) == 0 {
		profiles = DefaultProfileTypes()
	}
	return &Collector{outputDir: outputDir, profiles: profiles}
}

// Start begins collection. Only one CPU profile can run per process.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("collector already started")
	}
	if err := os.MkdirAll(c.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	c.stamp = time.Now().Format("20060102_150405")

	if c.has(ProfileBlock) {
		runtime.SetBlockProfileRate(1)
	}
	if c.has(ProfileMutex) {
		runtime.SetMutexProfileFraction(1)
	}

	if c.has(ProfileCPU) {
		f, err := os.Create(c.path(ProfileCPU))
		if err != nil {
			return fmt.Errorf("failed to create cpu profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			os.Remove(f.Name())
			return fmt.Errorf("failed to start cpu profile: %w", err)
		}
		c.cpuFile = f
	}

	c.running = true
	return nil
}

// Stop ends collection and returns the files written. Snapshot failures do
// not stop the remaining profiles from being written; the first one is
// returned.
func (c *Collector) Stop() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, nil
	}
	c.running = false

	var files []string
	var firstErr error
	keep := func(path string, err error) {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		files = append(files, path)
	}

	if c.cpuFile != nil {
		pprof.StopCPUProfile()
		err := c.cpuFile.Close()
		keep(c.cpuFile.Name(), err)
		c.cpuFile = nil
	}

	for _, pt := range c.profiles {
		if pt == ProfileCPU {
			continue
		}
		keep(c.snapshot(pt))
	}

	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
	return files, firstErr
}

func (c *Collector) snapshot(pt ProfileType) (string, error) {
	p := pprof.Lookup(string(pt))
	if p == nil {
		return "", fmt.Errorf("unknown profile: %s", pt)
	}
	if pt == ProfileHeap {
		runtime.GC()
	}

	path := c.path(pt)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s profile: %w", pt, err)
	}
	if err := p.WriteTo(f, 0); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s profile: %w", pt, err)
	}
	return path, f.Close()
}

func (c *Collector) has(pt ProfileType) bool {
	for _, p := range c.profiles {
		if p == pt {
			return true
		}
	}
	return false
}

func (c *Collector) path(pt ProfileType) string {
	return filepath.Join(c.outputDir, fmt.Sprintf("%s_%s.pprof", pt, c.stamp))
}
