//go:build windows

package vault

import "golang.org/x/sys/windows"

func diskSpace(path string) (SpaceInfo, error) {
	dir, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return SpaceInfo{}, err
	}
	var available, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(dir, &available, &total, &totalFree); err != nil {
		return SpaceInfo{}, err
	}
	return SpaceInfo{Available: available, Total: total}, nil
}
