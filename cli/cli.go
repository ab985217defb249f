// Package cli implements hubctl, the administrative command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"roadworks-hub/config"
	"roadworks-hub/core/appbootstrap"
	"roadworks-hub/core/bootstrap"
	"roadworks-hub/core/syncer"
	"roadworks-hub/core/utils"
)

const usage = "commands: create-manager, import-identities, sync, status"

const commandTimeout = 2 * time.Minute

// Run executes one command and returns the process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	switch args[0] {
	case "create-manager":
		return withRuntime(stderr, func(ctx context.Context, rt *appbootstrap.Runtime) error {
			return createManager(ctx, rt, args[1:], stdout)
		})
	case "import-identities":
		return withRuntime(stderr, func(ctx context.Context, rt *appbootstrap.Runtime) error {
			counts, err := rt.Reconciler.ImportIdentities(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout, counts)
		})
	case "sync":
		return withRuntime(stderr, func(ctx context.Context, rt *appbootstrap.Runtime) error {
			res, err := rt.Reconciler.ForceSync(ctx, "hubctl")
			if errors.Is(err, syncer.ErrOffline) {
				return err
			}
			if perr := printJSON(stdout, res); perr != nil {
				return perr
			}
			return err
		})
	case "status":
		return withRuntime(stderr, func(ctx context.Context, rt *appbootstrap.Runtime) error {
			st, err := rt.Reconciler.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(stdout, map[string]any{
				"auth": rt.Router.Status(ctx),
				"sync": st,
			})
		})
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s\n", args[0], usage)
		return 2
	}
}

func createManager(ctx context.Context, rt *appbootstrap.Runtime, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("create-manager", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "manager email")
	password := fs.String("password", "", "manager password")
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	created, err := bootstrap.EnsureManager(ctx, rt.Identities, bootstrap.ManagerRequest{
		Email:     *email,
		Password:  *password,
		FirstName: *first,
		LastName:  *last,
	}, rt.Config.Pepper, nil)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(stdout, "manager created")
	} else {
		fmt.Fprintln(stdout, "manager updated")
	}
	return nil
}

func withRuntime(stderr io.Writer, fn func(ctx context.Context, rt *appbootstrap.Runtime) error) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config load failed: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	rt, err := appbootstrap.InitRuntime(ctx, cfg, utils.NewLoggerWithLevel("warn"))
	if err != nil {
		fmt.Fprintf(stderr, "runtime init: %v\n", err)
		return 1
	}
	defer rt.Close()
	if err := fn(ctx, rt); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
