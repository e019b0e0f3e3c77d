//go:build darwin

package systeminfo

import "golang.org/x/sys/unix"

func TotalMemoryBytes() (uint64, error) {
	return unix.SysctlUint64("hw.memsize")
}

func FreeMemoryBytes() (uint64, error) {
	free, err := unix.SysctlUint64("vm.page_free_count")
	if err != nil {
		return 0, err
	}
	pageSize, err := unix.SysctlUint64("hw.pagesize")
	if err != nil {
		return 0, err
	}
	return free * pageSize, nil
}
