package updater

import "slices"

// FirstRunFlag is appended to the relaunch arguments so the new process can
// tell it was started by an update.
const FirstRunFlag = "--first-run-after-update"

// Restarter relaunches the application after an update. With a ServiceName
// the service manager restarts it; otherwise the current executable is
// started again with Args.
type Restarter struct {
	ServiceName string
	Args        []string
}

func (r *Restarter) relaunchArgs() []string {
	args := slices.Clone(r.Args)
	if !slices.Contains(args, FirstRunFlag) {
		args = append(args, FirstRunFlag)
	}
	return args
}
