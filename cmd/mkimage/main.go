// Command mkimage walks a host skeleton directory and packs its files into
// a corevm filesystem image loadable by memfs.LoadImage.
//
// Adapted from mkfs/mkfs.go's addfiles/copydata walk-and-copy role, which
// built a real on-disk ufs.Ufs_t image from bootloader, kernel, and skeleton
// inputs. This core's one Filesystem implementation (package memfs) is a
// flat in-memory namespace with no on-disk layout, so mkimage produces the
// one format memfs actually understands: a gob-encoded map of file name to
// contents, seeded back in by memfs.LoadImage at boot.
package main

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Printf("Usage: mkimage <skel dir> <output image>\n")
		os.Exit(1)
	}
	skeldir, out := os.Args[1], os.Args[2]

	files := make(map[string][]byte)
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skeldir), string(os.PathSeparator))
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = data
		return nil
	})
	if err != nil {
		fmt.Printf("error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}

	f, err := os.Create(out)
	if err != nil {
		fmt.Printf("error creating %q: %v\n", out, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(files); err != nil {
		fmt.Printf("error encoding image: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d files to %s\n", len(files), out)
}
