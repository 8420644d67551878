//go:build !linux

package host

func processRSSBytes() (uint64, bool) { return 0, false }
