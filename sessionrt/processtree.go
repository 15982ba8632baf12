package sessionrt

import (
	hclog "github.com/hashicorp/go-hclog"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// terminateProcessTree enumerates pid's descendants, suspends them
// pre-order (best-effort, to keep them from forking away), then kills
// leaves first and the root last, retrying once for any survivors and
// logging whatever remains.
func terminateProcessTree(logger hclog.Logger, pid int) error {
	root, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		// Already gone.
		return nil
	}

	tree := collectProcessTree(root)
	for _, p := range tree {
		_ = p.Suspend()
	}
	killLeavesFirst(logger, tree)

	var survivors []*gopsprocess.Process
	for _, p := range tree {
		if running, _ := p.IsRunning(); running {
			survivors = append(survivors, p)
		}
	}
	if len(survivors) > 0 {
		killLeavesFirst(logger, survivors)
	}
	for _, p := range survivors {
		if running, _ := p.IsRunning(); running {
			logger.Warn("process survived termination", "pid", p.Pid)
		}
	}
	return nil
}

// collectProcessTree returns root followed by all of its descendants,
// breadth-first, so that reversing the slice yields a leaves-first order.
func collectProcessTree(root *gopsprocess.Process) []*gopsprocess.Process {
	all := []*gopsprocess.Process{root}
	queue := []*gopsprocess.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		all = append(all, children...)
		queue = append(queue, children...)
	}
	return all
}

func killLeavesFirst(logger hclog.Logger, procs []*gopsprocess.Process) {
	// collectProcessTree discovers the root first and descendants after in
	// breadth-first order; reversing gives leaves (deepest discovered)
	// first and the root last.
	ordered := make([]*gopsprocess.Process, len(procs))
	for i, p := range procs {
		ordered[len(procs)-1-i] = p
	}
	for _, p := range ordered {
		if running, _ := p.IsRunning(); !running {
			continue
		}
		if err := p.Kill(); err != nil {
			logger.Debug("could not kill process", "pid", p.Pid, "error", err)
		}
	}
}
