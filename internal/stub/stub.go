package stub

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srgg/ptyhalfduplex/internal/jobcontrol"
	"github.com/srgg/ptyhalfduplex/internal/protocol"
	"github.com/srgg/ptyhalfduplex/pkg/config"
)

// ctlFd and infoFd are the well-known descriptor numbers the driver hands the
// stub via exec.Cmd.ExtraFiles (spec.md §4.1): stdin/stdout/stderr occupy
// 0-2, so the control and info pipes land on 3 and 4.
const (
	ctlFd  = 3
	infoFd = 4
)

// RunStub is the stub's entire startup and main loop (spec.md §4.2). It is
// invoked by the process's main() the moment Role() reports RoleStub, before
// any flag parsing happens. It services step requests until the slave dies
// or the control pipe closes, and then returns to its caller; setup failures
// end the process through log.Fatal.
func RunStub(log *logrus.Logger, cfg *config.Config) {
	ctl := os.NewFile(ctlFd, "ctl-pipe")
	info := os.NewFile(infoFd, "info-pipe")

	// Step 1: SIGTTOU must be ignored so tcsetpgrp from a background
	// process group (which the stub becomes for the duration of each step)
	// does not stop the stub itself.
	signal.Ignore(unix.SIGTTOU)

	slaveArgv := os.Args[1:]
	if len(slaveArgv) == 0 {
		log.Fatal("stub started with no slave command")
	}

	slaveCmd := exec.Command(os.Args[0], slaveArgv...)
	slaveCmd.Stdin = os.Stdin
	slaveCmd.Stdout = os.Stdout
	slaveCmd.Stderr = os.Stderr
	slaveCmd.Env = append(os.Environ(), RoleEnvVar+"="+RoleSlaveLauncher)
	// Pgid: 0 asks the kernel to make the slave the leader of its own new
	// process group (spec.md §3, "slave_pgid equals the slave's pid").
	slaveCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}

	if err := slaveCmd.Start(); err != nil {
		log.WithError(err).Fatal("failed to fork slave")
	}
	slavePid := slaveCmd.Process.Pid
	slavePgid := slavePid

	// Step 3: report the slave's pid before anything else can go wrong.
	if err := protocol.WritePid(info, slavePid); err != nil {
		log.WithError(err).Fatal("failed to write pid handshake")
	}

	// Step 4: wait for the self-raised SIGSTOP so the caller can assume the
	// slave begins stopped.
	died, ws, err := waitStopped(slavePid)
	if err != nil {
		log.WithError(err).Fatal("waiting for initial stop")
	}
	if died {
		d := deathFrom(ws)
		_ = protocol.WriteDied(info, d.Signal, d.Code)
		return
	}
	log.WithFields(logrus.Fields{"pid": slavePid}).Debug("slave stopped at startup")

	runMainLoop(ctl, info, slavePid, slavePgid, cfg, log)
}

// runMainLoop is the stub's "read one byte, run one step" loop (spec.md
// §4.2, "Main loop"), driven by jobcontrol's transition table rather than an
// ad hoc switch so the table stays the single source of truth for the
// state machine the spec describes.
func runMainLoop(ctl, info *os.File, slavePid, slavePgid int, cfg *config.Config, log *logrus.Logger) {
	table := jobcontrol.NewTable()
	state := jobcontrol.StateIdle

	var tag [1]byte
	for {
		n, err := ctl.Read(tag[:])
		if n == 0 || err != nil {
			if tr, ok := table.Step(state, jobcontrol.EventCtlEOF); ok {
				log.WithField("action", tr.Action).Debug("control pipe closed, stub exiting")
			}
			return
		}
		if tag[0] != protocol.CmdStep {
			log.WithField("byte", tag[0]).Warn("unexpected control byte, ignoring")
			continue
		}

		tr, ok := table.Step(state, jobcontrol.EventCtlStep)
		if !ok {
			log.WithField("state", state).Error("no transition for ctl_step, stub exiting")
			return
		}
		state = tr.Next

		died, isDead, err := RunStepLoop(0, slavePid, slavePgid, cfg, jobcontrol.Kick, log, table)
		if err != nil {
			log.WithError(err).Error("step loop failed, stub exiting")
			return
		}
		if isDead {
			_ = protocol.WriteDied(info, died.Signal, died.Code)
			return
		}
		if err := protocol.WriteReady(info); err != nil {
			log.WithError(err).Error("failed to write ready event, stub exiting")
			return
		}
		state = jobcontrol.StateIdle
	}
}

// RunSlaveLauncher is the grandchild half of spec.md §4.2 step 2: restore
// default job-control signal dispositions, raise SIGSTOP on itself so it
// starts life stopped (the precondition the step algorithm assumes), then
// exec the user's command in its place. The process group was already set
// by the parent's SysProcAttr at fork time.
func RunSlaveLauncher() {
	signal.Reset(unix.SIGCHLD, unix.SIGTTIN, unix.SIGTSTP, unix.SIGCONT, unix.SIGTTOU)

	if err := unix.Kill(os.Getpid(), unix.SIGSTOP); err != nil {
		fmt.Fprintf(os.Stderr, "ptyhalfduplex: slave launcher: raise SIGSTOP: %v\n", err)
		os.Exit(1)
	}

	argv := os.Args[1:]
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, "ptyhalfduplex: slave launcher started with no command")
		os.Exit(1)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ptyhalfduplex: %s: %v\n", argv[0], err)
		os.Exit(127)
	}
	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "ptyhalfduplex: exec %s: %v\n", path, err)
		os.Exit(126)
	}
}

// waitStopped blocks until pid either stops or terminates, retrying across
// EINTR. died is true for WIFEXITED/WIFSIGNALED.
func waitStopped(pid int) (died bool, ws unix.WaitStatus, err error) {
	for {
		_, err = unix.Wait4(pid, &ws, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, ws, fmt.Errorf("waitpid: %w", err)
		}
		break
	}
	return ws.Exited() || ws.Signaled(), ws, nil
}

// deathFrom converts a terminal WaitStatus into the wire-level Died payload
// (spec.md §4.1: byte 1 terminating signal or 0, byte 2 exit status or 0).
func deathFrom(ws unix.WaitStatus) protocol.Died {
	if ws.Signaled() {
		return protocol.Died{Signal: int(ws.Signal()), Code: 0}
	}
	return protocol.Died{Signal: 0, Code: ws.ExitStatus()}
}
