package plugin

import (
	"path"
	"sort"
	"strings"
)

// OutputFile is one file of the bundle, held in memory until written
type OutputFile struct {
	FileName string
	Contents []byte
	Chunk    *Chunk // nil for assets
}

// Bundle is the set of files the host is about to write
type Bundle struct {
	OutDir string
	files  map[string]*OutputFile
}

// NewBundle creates an empty bundle rooted at outDir
func NewBundle(outDir string) *Bundle {
	return &Bundle{
		OutDir: outDir,
		files:  make(map[string]*OutputFile),
	}
}

// Add stores a file, replacing any previous file with the same name
func (b *Bundle) Add(f *OutputFile) {
	f.FileName = cleanFileName(f.FileName)
	b.files[f.FileName] = f
}

// Emit adds an asset to the bundle
func (b *Bundle) Emit(fileName string, contents []byte) {
	b.Add(&OutputFile{FileName: fileName, Contents: contents})
}

// Get returns the file with the given name
func (b *Bundle) Get(fileName string) (*OutputFile, bool) {
	f, ok := b.files[cleanFileName(fileName)]
	return f, ok
}

// Files returns every file sorted by name
func (b *Bundle) Files() []*OutputFile {
	files := make([]*OutputFile, 0, len(b.files))
	for _, f := range b.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].FileName < files[j].FileName
	})
	return files
}

// Len returns the number of files in the bundle
func (b *Bundle) Len() int {
	return len(b.files)
}

func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}
