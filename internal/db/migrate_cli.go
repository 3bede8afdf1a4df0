package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to w.
func RunMigrateCommand(args []string, dbPath string, w io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		fmt.Fprintln(w, "all migrations applied")
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(w, "rolled back one migration")
	case "status":
		version, dirty, err := database.MigrateVersion()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "version: %d\ndirty:   %t\n", version, dirty)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: zoomy migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.MigrateForce(version); err != nil {
			return err
		}
		fmt.Fprintf(w, "forced version %d\n", version)
	case "help":
		PrintMigrateHelp(w)
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
	return nil
}

// PrintMigrateHelp writes the subcommand usage.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: zoomy migrate <action> [args]

Actions:
  up               apply all pending migrations
  down             roll back the most recent migration
  status           show the current version and dirty flag
  force <version>  set the version without running migrations
  help             show this message
`)
}
