// Command corevmctl boots a kernel.Context from a memfs image, execs one
// program against it, and waits on it, printing the resulting status and
// fault/eviction counters. It is the demo harness for the core: nothing
// here drives actual user-mode execution (there is no CPU/scheduler in
// this hosted core — that is the external collaborator process admission
// hands off to), so once exec admits the child, corevmctl stands in for
// that missing trap-return path by exiting the child immediately with
// status 0, then reaping it with wait the way its real parent would.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/galileo-os/corevm/console"
	"github.com/galileo-os/corevm/defs"
	"github.com/galileo-os/corevm/kernel"
	"github.com/galileo-os/corevm/memfs"
	"github.com/galileo-os/corevm/proc"
)

const (
	frameCount = 256
	swapSlots  = 64
)

func main() {
	var (
		imagePath = flag.String("image", "", "path to a gob image built by mkimage, or a skeleton directory")
		swapFile  = flag.String("swapfile", "", "path to the swap store's backing file (default: a temp file)")
	)
	flag.Parse()
	args := flag.Args()
	if *imagePath == "" || len(args) < 1 {
		fmt.Fprintf(os.Stderr, "usage: corevmctl -image <path> <cmdline>\n")
		os.Exit(2)
	}
	cmdline := strings.Join(args, " ")

	fs, err := openImage(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corevmctl: %v\n", err)
		os.Exit(1)
	}

	dev, cleanup, err := openSwapDevice(*swapFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "corevmctl: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	con := console.New(os.Stdout, os.Stdin)
	ctx := kernel.New(frameCount, dev, swapSlots, fs, con)

	root := proc.New(0, "corevmctl", nil)
	pid := ctx.Exec(root, cmdline)
	if pid < 0 {
		fmt.Fprintf(os.Stderr, "corevmctl: exec %q failed\n", cmdline)
		os.Exit(1)
	}
	fmt.Printf("corevmctl: admitted pid %d (%s)\n", pid, cmdline)

	if child, ok := ctx.Procs.Get(pid); ok {
		ctx.Exit(child, 0)
	}

	status := ctx.Wait(root, pid)
	fmt.Printf("corevmctl: pid %d exited with status %d\n", pid, status)
	fmt.Print(ctx.Stats.Report())

	if status != 0 {
		os.Exit(1)
	}
}

// openImage accepts either a gob image written by cmd/mkimage or a plain
// skeleton directory, walking and seeding the latter directly rather than
// requiring a build step first.
func openImage(path string) (*memfs.FS, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if !info.IsDir() {
		return memfs.LoadImage(path)
	}

	fs := memfs.New()
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, path), string(os.PathSeparator))
		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return rerr
		}
		fs.Seed(rel, data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk skeleton dir: %w", err)
	}
	return fs, nil
}

// openSwapDevice backs the swap store with a temp file unless the caller
// names one explicitly, returning a cleanup func that removes a temp file
// but leaves a caller-supplied one in place.
func openSwapDevice(path string) (*memfs.FileBlockDevice, func(), error) {
	owned := path == ""
	if owned {
		f, err := os.CreateTemp("", "corevmctl-swap-*")
		if err != nil {
			return nil, nil, fmt.Errorf("create swap temp file: %w", err)
		}
		path = f.Name()
		f.Close()
	}

	sectors := swapSlots * defs.SectorsPerPage
	dev, err := memfs.NewFileBlockDevice(path, sectors)
	if err != nil {
		return nil, nil, fmt.Errorf("open swap device: %w", err)
	}
	cleanup := func() {
		if owned {
			os.Remove(path)
		}
	}
	return dev, cleanup, nil
}
