//go:build linux

package watch

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// watchMask subscribes modification events only. IN_EXCL_UNLINK keeps events
// for names that have been unlinked but are still held open out of the
// stream, so a deleted-and-recreated log file cannot retrigger the watch
// through its old inode.
const watchMask = unix.IN_MODIFY | unix.IN_EXCL_UNLINK

// NewChangeSource creates an inotify instance and registers a watch for
// modification events on target. The two setup steps fail distinctly:
// StageInit when the inotify instance cannot be created, StageWatch when the
// target cannot be watched (typically because it does not exist). On a
// watch-registration failure the instance descriptor is closed before
// returning.
func NewChangeSource(target string) (*ChangeSource, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC)
	if err != nil {
		return nil, &SetupError{
			Component: ComponentWatch,
			Stage:     StageInit,
			Err:       fmt.Errorf("inotify_init1: %w", err),
		}
	}

	wd, err := unix.InotifyAddWatch(fd, target, watchMask)
	if err != nil {
		_ = unix.Close(fd)
		return nil, &SetupError{
			Component: ComponentWatch,
			Stage:     StageWatch,
			Err:       fmt.Errorf("inotify_add_watch %s: %w", target, err),
		}
	}

	s := &ChangeSource{
		fd:     fd,
		wd:     int32(wd),
		target: target,
		buf:    make([]byte, readBufSize),
	}
	s.closeFn = func() error {
		// Removing the watch fails with EINVAL if the kernel already
		// dropped it (target deleted); that is not worth surfacing.
		var rmErr error
		if _, err := unix.InotifyRmWatch(fd, uint32(wd)); err != nil && err != unix.EINVAL {
			rmErr = fmt.Errorf("inotify_rm_watch: %w", err)
		}
		return errors.Join(rmErr, unix.Close(fd))
	}
	return s, nil
}
