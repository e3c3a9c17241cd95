//go:build !unix

package transport

func setSockOptReuseAddr(uintptr) error { return nil }

func setSockOptTOS(uintptr, int) error { return nil }
