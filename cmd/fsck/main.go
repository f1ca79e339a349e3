// Command fsck runs the offline consistency check of spec.md §4.9/§6
// against a SOFS11 volume: `fsck -f dev [-l log]`.
//
// Grounded on cmd/fsck/main.go's own CLI shape and cmd/mcheck/mcheck.go's
// quieter summary-table idea, both replaced here by urfave/cli/v2 and a
// rodaine/table report, color-highlighted via fatih/color the way
// cmd/mkfs's layout report is -- mcheck itself is not ported, its
// summary folded into this single tool instead.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mlaz/OperatingSystemsFS/bcache"
	"github.com/mlaz/OperatingSystemsFS/common"
	"github.com/mlaz/OperatingSystemsFS/device"
	"github.com/mlaz/OperatingSystemsFS/fsck"
)

func main() {
	app := &cli.App{
		Name:      "fsck",
		Usage:     "check a SOFS11 volume for consistency",
		ArgsUsage: "dev",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "check even a volume marked properly unmounted"},
			&cli.StringFlag{Name: "log", Aliases: []string{"l"}, Usage: "append log messages to this file; the findings report still goes to stdout"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	dev := c.Args().First()
	if dev == "" {
		return cli.Exit("missing required argument: dev", 1)
	}

	if logPath := c.String("log"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		logrus.SetOutput(f)
	}

	file, err := device.Open(dev)
	if err != nil {
		return err
	}
	defer file.Close()
	cache := bcache.New(file)

	if !c.Bool("force") {
		if err := cache.LoadSuperblock(); err == nil {
			if sb, err := cache.Superblock(); err == nil && sb.Mstat == common.ProperlyUnmounted {
				fmt.Println("volume was properly unmounted, skipping (use -f to force)")
				return nil
			}
		}
	}

	report, err := fsck.Check(cache)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	tbl := table.New("Phase", "Result", "Findings")
	for _, p := range report.Phases {
		status := green("OK")
		if !p.OK() {
			status = red("FAIL")
		}
		tbl.AddRow(p.Name, status, len(p.Findings))
	}
	tbl.Print()

	for _, p := range report.Phases {
		for _, f := range p.Findings {
			fmt.Printf("%s: %s: %v\n", p.Name, f.Subject, f.Err)
		}
	}

	if !report.OK() {
		return cli.Exit("volume is inconsistent", 1)
	}
	fmt.Println(green("volume is consistent"))
	return nil
}
