// Command sysvrun is the front-end for the service supervisor: it loads a
// unit file, then either runs the monitor loop in the foreground (start)
// or talks to an already-running monitor over its control socket
// (stop/restart/status/control). It mirrors sysvrun.c's verb dispatch,
// without that program's -D/-U environment-templating flags, which fall
// under variable substitution and are out of scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/WithSecureOpenSource/sysvkit/internal/control"
	"github.com/WithSecureOpenSource/sysvkit/internal/monitorcfg"
	"github.com/WithSecureOpenSource/sysvkit/internal/unitfile"
	syslog "github.com/WithSecureOpenSource/sysvkit/log"
	"github.com/WithSecureOpenSource/sysvkit/monitor"
	"github.com/WithSecureOpenSource/sysvkit/utils"
)

const defaultConfigPath = `/etc/sysvkit/sysvkit.conf`

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sysvrun [-config path] [-unit-file path] service verb")
	fmt.Fprintln(os.Stderr, "verbs: start stop restart status control")
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("sysvrun", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to the monitor's own configuration file")
	unitFile := fs.String("unit-file", "", "load the service definition from this unit file instead of the unit directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) < 2 {
		usage()
		return 2
	}
	service, verb := rest[0], rest[1]
	if verb == "control" && len(rest) != 3 {
		usage()
		return 2
	}

	cfg, err := monitorcfg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}

	switch verb {
	case "start":
		return doStart(cfg, service, *unitFile)
	case "stop":
		return doControl(cfg, service, "stop")
	case "restart":
		return doControl(cfg, service, "restart")
	case "status":
		return doControl(cfg, service, "status")
	case "control":
		return doControl(cfg, service, rest[2])
	default:
		fmt.Fprintf(os.Stderr, "sysvrun: unknown verb %q\n", verb)
		return 2
	}
}

func doStart(cfg monitorcfg.Config, service, unitFile string) int {
	var u *unitfile.Unit
	var err error
	if unitFile != "" {
		f, ferr := os.Open(unitFile)
		if ferr != nil {
			fmt.Fprintf(os.Stderr, "sysvrun: %v\n", ferr)
			return 1
		}
		defer f.Close()
		u, err = unitfile.Parse(f, service)
	} else {
		u, err = unitfile.Load(cfg.UnitDir, service)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}

	svcCfg, err := u.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}

	uid, gid, err := resolveCredentials(svcCfg.User, svcCfg.Group)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}

	lg, err := syslog.NewFile(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}
	defer lg.Close()
	if err := lg.SetLevelString(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}
	kvlg := syslog.NewLoggerWithKV(lg, syslog.KV("service", service))

	sup := monitor.New(svcCfg, uid, gid, cfg.SelfBase, kvlg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		utils.WaitForQuit()
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}
	return 0
}

func doControl(cfg monitorcfg.Config, service, cmd string) int {
	c, err := control.Dial(cfg.SelfBase, service)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}
	defer c.Close()

	resp, err := c.Command(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysvrun: %v\n", err)
		return 1
	}
	fmt.Println(resp)
	return 0
}

// resolveCredentials looks up the configured User/Group names. An unset
// name yields 0, which command.Build treats as "no credential change", so
// a service with no User=/Group= runs as the caller, the way
// command_from_service falls back when Service has no User=/Group=.
func resolveCredentials(userName, groupName string) (uid, gid uint32, err error) {
	if userName == "" && groupName == "" {
		return 0, 0, nil
	}
	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return 0, 0, fmt.Errorf("user %q not found: %w", userName, err)
		}
		n, err := strconv.Atoi(u.Uid)
		if err != nil {
			return 0, 0, err
		}
		uid = uint32(n)
	}
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return 0, 0, fmt.Errorf("group %q not found: %w", groupName, err)
		}
		n, err := strconv.Atoi(g.Gid)
		if err != nil {
			return 0, 0, err
		}
		gid = uint32(n)
	}
	return uid, gid, nil
}
