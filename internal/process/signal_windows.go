//go:build windows

package process

import (
	"syscall"
	"unsafe"
)

var (
	kernel32               = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess        = kernel32.NewProc("OpenProcess")
	procTerminateProcess   = kernel32.NewProc("TerminateProcess")
	procGetExitCodeProcess = kernel32.NewProc("GetExitCodeProcess")
	procCloseHandle        = kernel32.NewProc("CloseHandle")
)

const (
	PROCESS_TERMINATE                 = 0x0001
	PROCESS_QUERY_LIMITED_INFORMATION = 0x1000
	STILL_ACTIVE                      = 259
)

// processExists opens the process and checks that it has not exited yet.
func processExists(pid int) bool {
	handle, err := openProcess(PROCESS_QUERY_LIMITED_INFORMATION, uint32(pid))
	if err != nil {
		return false
	}
	defer closeHandle(handle)
	var code uint32
	ret, _, _ := procGetExitCodeProcess.Call(uintptr(handle), uintptr(unsafe.Pointer(&code)))
	if ret == 0 {
		return false
	}
	return code == STILL_ACTIVE
}

// Windows has no graceful signal for a detached process without a console;
// both terminate and kill end the process.
func terminateProcess(pid int) error { return killProcess(pid) }

func killProcess(pid int) error {
	if pid <= 0 {
		return ErrNotRunning
	}
	handle, err := openProcess(PROCESS_TERMINATE, uint32(pid))
	if err != nil {
		return ErrNotRunning
	}
	defer closeHandle(handle)
	ret, _, err := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}

func openProcess(access uint32, processID uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(processID))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}
