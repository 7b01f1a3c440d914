package amd64

import "github.com/tinyrange/bfc/internal/linux/defs"

// Numbers from arch/x86/entry/syscalls/syscall_64.tbl.
const (
	SYS_READ  = 0
	SYS_WRITE = 1
	SYS_EXIT  = 60
)

var SyscallMap = map[defs.Syscall]int{
	defs.SYS_READ:  SYS_READ,
	defs.SYS_WRITE: SYS_WRITE,
	defs.SYS_EXIT:  SYS_EXIT,
}
