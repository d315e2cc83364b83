package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault error")

// Fault defines specific failure behavior.
type Fault struct {
	FailOnWrite    bool  // Fail every write.
	FailAfterBytes int64 // Fail writes that would push one file past this many bytes. 0 disables.
	FailOnSync     bool
	FailOnClose    bool
	FailOnRename   bool
	Err            error
}

// FaultyFS is a FileSystem wrapper that can inject errors.
type FaultyFS struct {
	FS FileSystem

	mu    sync.Mutex
	rules map[string]Fault // file name substring -> fault
}

// NewFaultyFS creates a new FaultyFS wrapping the provided FS (or Default if nil).
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}

	return &FaultyFS{FS: fs, rules: make(map[string]Fault)}
}

// AddRule adds a fault for every file whose name contains pattern.
// Files opened before the rule was added are affected on their next call.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if fault.Err == nil {
		fault.Err = ErrInjected
	}

	f.rules[pattern] = fault
}

// ClearRules removes all faults.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules = make(map[string]Fault)
}

func (f *FaultyFS) faultFor(name string) (Fault, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			return rule, true
		}
	}

	return Fault{}, false
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f, name: name}, nil
}

func (f *FaultyFS) Remove(name string) error { return f.FS.Remove(name) }

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if rule, ok := f.faultFor(newpath); ok && rule.FailOnRename {
		return rule.Err
	}

	return f.FS.Rename(oldpath, newpath)
}

func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.FS.MkdirAll(path, perm) }

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }

type faultyFile struct {
	File
	fs      *FaultyFS
	name    string
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if rule, ok := ff.fs.faultFor(ff.name); ok {
		if rule.FailOnWrite || (rule.FailAfterBytes > 0 && ff.written+int64(len(p)) > rule.FailAfterBytes) {
			return 0, rule.Err
		}
	}

	n, err := ff.File.Write(p)
	ff.written += int64(n)

	return n, err
}

func (ff *faultyFile) Sync() error {
	if rule, ok := ff.fs.faultFor(ff.name); ok && rule.FailOnSync {
		return rule.Err
	}

	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	if rule, ok := ff.fs.faultFor(ff.name); ok && rule.FailOnClose {
		_ = ff.File.Close()
		return rule.Err
	}

	return ff.File.Close()
}
