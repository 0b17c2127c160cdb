//go:build !linux && !darwin

package storage

// On unsupported platforms, MMap falls back to plain file I/O
type MMap struct {
	*File
}

func NewMMap(path string, _ int64) (*MMap, error) {
	f, err := NewFile(path)
	if err != nil {
		return nil, err
	}
	return &MMap{File: f}, nil
}
