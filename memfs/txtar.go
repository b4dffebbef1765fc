package memfs

import "golang.org/x/tools/txtar"

// LoadTxtar parses a txtar archive and seeds each of its files into a new
// in-memory filesystem, keyed by file name — a small, greppable alternative
// to LoadImage's gob format for hand-authored test and demo fixtures.
// cmd/mkimage's gob format remains the one used for larger generated images
// built from a host skeleton directory.
func LoadTxtar(data []byte) *FS {
	arc := txtar.Parse(data)
	fs := New()
	for _, f := range arc.Files {
		fs.Seed(f.Name, f.Data)
	}
	return fs
}
