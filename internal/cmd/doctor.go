package cmd

import (
	"flag"
	"fmt"
	"io"

	"github.com/filipyuen/Q9CP/pkg/config"
	"github.com/filipyuen/Q9CP/pkg/permissions"
)

func newDoctorCommand() command {
	return command{
		name:        "doctor",
		usage:       "[device]",
		description: "Check privilege, device access and forwarding prerequisites without grabbing",
		run:         runDoctor,
	}
}

type doctorCheck struct {
	name   string
	result permissions.ProbeResult
}

func runDoctor(fs *flag.FlagSet, args []string, ctx *AppContext, stdout io.Writer, stderr io.Writer) error {
	if ctx == nil {
		return fmt.Errorf("application context unavailable")
	}
	if len(args) > 1 {
		fs.Usage()
		return usageError(fmt.Errorf("doctor accepts at most one device path"))
	}

	checks := []doctorCheck{{name: "privilege", result: permissions.ProbeRoot(nil)}}
	if len(args) == 1 {
		checks = append(checks, doctorCheck{name: "device", result: permissions.ProbeDevice(args[0])})
	}
	switch ctx.Config.Hook.Variant {
	case config.VariantMirror:
		checks = append(checks, doctorCheck{name: "uinput", result: permissions.ProbeUinput()})
	default:
		checks = append(checks, doctorCheck{name: "injector", result: permissions.ProbeBinary(ctx.Config.Inject.Binary)})
	}

	fmt.Fprintf(stdout, "%s doctor (variant: %s)\n", programName, ctx.Config.Hook.Variant)
	ready := true
	for _, check := range checks {
		fmt.Fprintf(stdout, "  %-10s %-12s %s\n", check.name, check.result.StatusString(), check.result.Message)
		if check.result.Guidance != "" {
			fmt.Fprintf(stdout, "  %-10s %-12s hint: %s\n", "", "", check.result.Guidance)
		}
		if check.result.Status != permissions.StatusGranted {
			ready = false
		}
	}
	if ready {
		fmt.Fprintln(stdout, "Ready.")
	} else {
		fmt.Fprintln(stdout, "Not ready; see hints above.")
	}
	ctx.Logger.Debug("doctor completed", "ready", ready, "checks", len(checks))
	return nil
}
