// Command phylumctl inspects and manipulates a phylum device file from the
// shell, mirroring the teacher's cmd/sqfs tool: one flat dispatch on
// os.Args[1], one function per subcommand, errors printed to stderr with a
// non-zero exit rather than panicking.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/flashcore/phylum"
)

const usage = `phylumctl - phylum device inspection tool

Usage:
  phylumctl format <device> <sector-size> <sector-count>   Create and format a new device file
  phylumctl touch <device> <name>                           Create an empty file
  phylumctl write <device> <name> <file>                    Append a local file's contents to name
  phylumctl cat <device> <name>                              Print a file's contents to stdout
  phylumctl rm <device> <name>                                Unlink a file
  phylumctl export <device> <archive> [codec]                 Snapshot every live file to archive
  phylumctl import <device> <archive> [codec]                 Restore files from an archive
  phylumctl help                                              Show this help message

codec is "none" (default), or "zstd"/"xz" if phylumctl was built with that
tag.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "format":
		err = cmdFormat(os.Args[2:])
	case "touch":
		err = cmdTouch(os.Args[2:])
	case "write":
		err = cmdWrite(os.Args[2:])
	case "cat":
		err = cmdCat(os.Args[2:])
	case "rm":
		err = cmdRemove(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "import":
		err = cmdImport(os.Args[2:])
	case "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func cmdFormat(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: phylumctl format <device> <sector-size> <sector-count>")
	}
	sectorSize, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid sector size: %w", err)
	}
	sectorCount, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid sector count: %w", err)
	}

	dev, err := phylum.CreateFileSectorMap(args[0], sectorSize, sectorCount)
	if err != nil {
		return err
	}
	defer dev.Close()

	fsys := phylum.New(dev, phylum.NewPersistentAllocator(dev, uint32(sectorCount)))
	return fsys.Format()
}

func openFilesystem(path string, sectorSize int) (*phylum.Filesystem, *phylum.FileSectorMap, error) {
	dev, err := phylum.OpenFileSectorMap(path, sectorSize)
	if err != nil {
		return nil, nil, err
	}
	fsys := phylum.New(dev, phylum.NewPersistentAllocator(dev, dev.SectorCount()))
	if err := fsys.Mount(); err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fsys, dev, nil
}

func cmdTouch(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: phylumctl touch <device> <name>")
	}
	fsys, dev, err := openFilesystem(args[0], defaultSectorSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	_, err = fsys.Touch(args[1])
	return err
}

func cmdWrite(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: phylumctl write <device> <name> <file>")
	}
	fsys, dev, err := openFilesystem(args[0], defaultSectorSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	data, err := os.ReadFile(args[2])
	if err != nil {
		return err
	}

	file, err := fsys.Open(args[1], nil)
	if err != nil {
		return err
	}
	appender, err := fsys.NewAppender(file)
	if err != nil {
		return err
	}
	if err := appender.Write(data); err != nil {
		appender.Close()
		return err
	}
	return appender.Close()
}

func cmdCat(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: phylumctl cat <device> <name>")
	}
	fsys, dev, err := openFilesystem(args[0], defaultSectorSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	file, err := fsys.Open(args[1], nil)
	if err != nil {
		return err
	}
	r, err := fsys.NewReader(file)
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = io.Copy(os.Stdout, r)
	return err
}

func cmdRemove(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: phylumctl rm <device> <name>")
	}
	fsys, dev, err := openFilesystem(args[0], defaultSectorSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	return fsys.Unlink(args[1])
}

func cmdExport(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: phylumctl export <device> <archive> [codec]")
	}
	fsys, dev, err := openFilesystem(args[0], defaultSectorSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	codec := "none"
	if len(args) > 2 {
		codec = args[2]
	}

	out, err := os.Create(args[1])
	if err != nil {
		return err
	}
	defer out.Close()

	return phylum.Export(fsys, out, codec)
}

func cmdImport(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: phylumctl import <device> <archive> [codec]")
	}
	fsys, dev, err := openFilesystem(args[0], defaultSectorSize)
	if err != nil {
		return err
	}
	defer dev.Close()

	codec := "none"
	if len(args) > 2 {
		codec = args[2]
	}

	in, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer in.Close()

	return phylum.Import(fsys, in, codec)
}

const defaultSectorSize = 4096
