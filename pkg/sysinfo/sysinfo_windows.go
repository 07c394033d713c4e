//go:build windows

package sysinfo

func rootPath() string { return "C:\\" }
