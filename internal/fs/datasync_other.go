//go:build !linux

package fs

func datasync(_ fder, f File) error {
	return f.Sync()
}
