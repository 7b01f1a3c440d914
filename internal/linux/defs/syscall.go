package defs

import "fmt"

// Syscall is an architecture independent syscall identifier. Each target
// architecture maps it to its own number.
type Syscall int

const (
	SYS_READ Syscall = iota
	SYS_WRITE
	SYS_EXIT
	MaximumSyscall
)

var SyscallNames = map[Syscall]string{
	SYS_READ:  "read",
	SYS_WRITE: "write",
	SYS_EXIT:  "exit",
}

func (s Syscall) String() string {
	if name, ok := SyscallNames[s]; ok {
		return name
	}
	return fmt.Sprintf("syscall#%d", s)
}

// File descriptors the generated programs talk to.
const (
	Stdin  = 0
	Stdout = 1
)
