// Package defs holds the error codes, device numbers, and page/word sized
// constants shared by every other package in the core. It plays the same
// role here that biscuit's defs package plays there: a leaf package with no
// dependencies that everything else imports.
package defs

/// Err_t is a kernel error code. Zero means success; a negative value
/// is one of the named constants below, mirroring biscuit's own
/// "-defs.EFAULT"-style idiom (see vm/as.go, vm/userbuf.go).
type Err_t int

// Error codes returned to syscall handlers and internal callers. Only the
// subset the core actually raises is defined; this is not a full errno
// table.
const (
	EFAULT  Err_t = 14 /// bad user address (BadUserAddress)
	EINVAL  Err_t = 22 /// malformed argument or executable (LoadFailed)
	EBADF   Err_t = 9  /// unknown file descriptor (NotFound.Fd)
	ECHILD  Err_t = 10 /// pid is not a waitable child (NotFound.Child)
	EACCES  Err_t = 13 /// write into a read-only mapping (PermissionDenied)
	ENOSPC  Err_t = 28 /// swap store exhausted (ResourceExhausted.SwapFull)
	ENOMEM  Err_t = 12 /// frame pool exhausted (ResourceExhausted.MallocFailed)
	ENOENT  Err_t = 2  /// named file does not exist
	EEXIST  Err_t = 17 /// Create on an existing name
)

/// Error renders the code as a short, stable string for log lines.
func (e Err_t) Error() string {
	switch -e {
	case EFAULT:
		return "bad user address"
	case EINVAL:
		return "invalid argument"
	case EBADF:
		return "bad file descriptor"
	case ECHILD:
		return "no such child"
	case EACCES:
		return "permission denied"
	case ENOSPC:
		return "swap store full"
	case ENOMEM:
		return "out of frames"
	case ENOENT:
		return "no such file"
	case EEXIST:
		return "file exists"
	default:
		if e == 0 {
			return "success"
		}
		return "unknown error"
	}
}

// PAGE_SIZE, SECTOR_SIZE and the stack-growth limits.
const (
	PAGE_SIZE       = 4096
	SECTOR_SIZE     = 512
	SectorsPerPage  = PAGE_SIZE / SECTOR_SIZE
	MAX_ARGS        = 100
	STACK_MAX_PAGES = 2048

	// PHYS_BASE is the top of the user address space, the traditional
	// 32-bit Pintos split (3GiB user / 1GiB kernel). STACK_INIT is the
	// first (highest) user stack page.
	PHYS_BASE  = 0xC0000000
	STACK_INIT = PHYS_BASE - PAGE_SIZE
)

/// Tid_t names a thread/process identifier, kept as its own type so call
/// sites read as intent rather than bare ints (mirrors biscuit's defs.Tid_t,
/// referenced from tinfo.Tnote_t).
type Tid_t int
