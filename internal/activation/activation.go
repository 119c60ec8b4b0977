// Package activation picks up sockets passed in by systemd.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// systemd passes descriptors starting right after stderr
const firstFD = 3

// Listen returns the first socket-activated listener if this process was
// started with one, otherwise a fresh listener on addr. The bool reports
// which of the two was used.
func Listen(network, addr string) (net.Listener, bool, error) {
	listeners, err := Listeners()
	if err != nil {
		return nil, false, err
	}
	if len(listeners) > 0 {
		for _, extra := range listeners[1:] {
			_ = extra.Close()
		}
		return listeners[0], true, nil
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, false, err
	}
	return ln, false, nil
}

// Listeners returns the listeners handed over via LISTEN_PID/LISTEN_FDS.
// It returns nil when the variables are absent or meant for another process.
func Listeners() ([]net.Listener, error) {
	count, err := passedFDs()
	if err != nil || count == 0 {
		return nil, err
	}

	listeners := make([]net.Listener, 0, count)
	for i := 0; i < count; i++ {
		fd := firstFD + i
		file := os.NewFile(uintptr(fd), "systemd-socket-"+strconv.Itoa(i))
		if file == nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}

		ln, err := net.FileListener(file)
		// the listener holds its own dup of the descriptor
		_ = file.Close()
		if err != nil {
			closeAll(listeners)
			return nil, fmt.Errorf("failed to create listener from fd %d: %w", fd, err)
		}
		listeners = append(listeners, ln)
	}

	// keep child processes from inheriting the sockets
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")

	return listeners, nil
}

// passedFDs returns how many descriptors were passed to this process
func passedFDs() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}
	count, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if count < 1 {
		return 0, nil
	}
	return count, nil
}

func closeAll(listeners []net.Listener) {
	for _, ln := range listeners {
		_ = ln.Close()
	}
}
