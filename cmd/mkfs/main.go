// Command mkfs builds a fresh SOFS11 volume, per spec.md §6's CLI
// surface: `mkfs [-n name] [-i count] [-z] [-q] [-h] dev`.
//
// Grounded on cmd/mkfs/main.go's flag set and final layout report,
// replacing its hand-rolled flag.FlagSet with urfave/cli/v2 and its
// fmt.Printf dump with a rodaine/table summary, color-highlighted via
// fatih/color the way cmd/fsck's pass/fail table is.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/urfave/cli/v2"

	"github.com/mlaz/OperatingSystemsFS/mkfs"
)

func main() {
	app := &cli.App{
		Name:      "mkfs",
		Usage:     "build a fresh SOFS11 volume",
		ArgsUsage: "dev",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Value: "sofs11", Usage: "volume name"},
			&cli.UintFlag{Name: "inodecount", Aliases: []string{"i"}, Value: 1024, Usage: "number of inodes"},
			&cli.UintFlag{Name: "size", Value: 2048, Usage: "volume size, in blocks"},
			&cli.BoolFlag{Name: "zerofill", Aliases: []string{"z"}, Usage: "zero every block of every free cluster"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress the layout report"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	dev := c.Args().First()
	if dev == "" {
		return cli.Exit("missing required argument: dev", 1)
	}

	layout, err := mkfs.Format(dev, uint32(c.Uint("size")), mkfs.Options{
		VolumeName: c.String("name"),
		InodeCount: uint32(c.Uint("inodecount")),
		ZeroFill:   c.Bool("zerofill"),
	})
	if err != nil {
		return err
	}
	if c.Bool("quiet") {
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	tbl := table.New("Field", "Value")
	tbl.AddRow("ntotal", layout.Ntotal)
	tbl.AddRow("itable_start", layout.ITableStart)
	tbl.AddRow("itable_size", layout.ITableSize)
	tbl.AddRow("itotal", layout.Itotal)
	tbl.AddRow("dzone_start", layout.DzoneStart)
	tbl.AddRow("dzone_total", layout.DzoneTotal)
	tbl.AddRow("uuid", layout.UUID)
	fmt.Println(green("volume formatted:"))
	tbl.Print()
	return nil
}
