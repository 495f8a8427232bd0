//go:build !windows

package vault

import "syscall"

func diskSpace(path string) (SpaceInfo, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return SpaceInfo{}, err
	}
	return SpaceInfo{
		Available: stat.Bavail * uint64(stat.Bsize),
		Total:     stat.Blocks * uint64(stat.Bsize),
	}, nil
}
