package supervisor

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// termGrace is the TERM-to-KILL budget for process groups.
const termGrace = 10 * time.Second

// Alive reports whether a PID refers to a live process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// SignalGroup delivers sig to the whole process group of pid.
func SignalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// TerminateGroup sends SIGTERM to the group, waits up to termGrace for the
// leader to exit, then SIGKILLs the group. Reports whether the kill
// escalation was needed.
func TerminateGroup(pid int) bool {
	if !Alive(pid) {
		return false
	}
	_ = SignalGroup(pid, syscall.SIGTERM)
	deadline := time.Now().Add(termGrace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
	_ = SignalGroup(pid, syscall.SIGKILL)
	return true
}

// ChildrenOf lists the direct children of pid from /proc.
func ChildrenOf(pid int) []int {
	var out []int
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	want := strconv.Itoa(pid)
	for _, e := range entries {
		child, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", e.Name(), "stat"))
		if err != nil {
			continue
		}
		// stat field 4 is ppid; the comm field (2) is parenthesized and may
		// contain spaces, so split after the closing paren.
		s := string(raw)
		idx := strings.LastIndexByte(s, ')')
		if idx < 0 {
			continue
		}
		fields := strings.Fields(s[idx+1:])
		if len(fields) >= 2 && fields[1] == want {
			out = append(out, child)
		}
	}
	return out
}

// FindByCmdline returns PIDs whose /proc cmdline contains every substring.
func FindByCmdline(substrs ...string) []int {
	var out []int
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	self := os.Getpid()
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid == self {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
		if err != nil {
			continue
		}
		cmdline := string(bytes.ReplaceAll(raw, []byte{0}, []byte{' '}))
		match := true
		for _, sub := range substrs {
			if !strings.Contains(cmdline, sub) {
				match = false
				break
			}
		}
		if match {
			out = append(out, pid)
		}
	}
	return out
}

// KillOrphans removes leftover runner processes belonging to a task and
// returns how many were signaled.
func KillOrphans(runnerName, taskID string) int {
	pids := FindByCmdline(runnerName, taskID)
	for _, pid := range pids {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return len(pids)
}

// pollWorkers polls the children of the master PID until the set is stable
// over three consecutive polls, capped at 15 s.
func pollWorkers(masterPID int) []int {
	const (
		interval = time.Second
		stable   = 3
		budget   = 15 * time.Second
	)
	var (
		last  []int
		runs  int
		until = time.Now().Add(budget)
	)
	for time.Now().Before(until) {
		cur := ChildrenOf(masterPID)
		if equalPIDs(cur, last) && len(cur) > 0 {
			runs++
			if runs >= stable-1 {
				return cur
			}
		} else {
			runs = 0
		}
		last = cur
		time.Sleep(interval)
	}
	return last
}

func equalPIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]struct{}, len(a))
	for _, p := range a {
		seen[p] = struct{}{}
	}
	for _, p := range b {
		if _, ok := seen[p]; !ok {
			return false
		}
	}
	return true
}
