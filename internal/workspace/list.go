package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	DefaultPreviewSizeLimit = 1000
	DefaultMaxPreviewBytes  = 4096
)

// textExtensions are file extensions considered safe to preview.
var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
	".yaml": true,
	".yml":  true,
	".csv":  true,
	".log":  true,
	".go":   true,
	".py":   true,
	".sh":   true,
}

// TextExtensions returns the extensions DefaultPreview accepts, sorted.
func TextExtensions() []string {
	exts := make([]string, 0, len(textExtensions))
	for ext := range textExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Entry is one item of a workspace listing.
type Entry struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"isDir,omitempty"`
	Preview string `json:"preview,omitempty"`
	// HasPreview distinguishes an empty preview from no preview.
	HasPreview bool `json:"hasPreview"`
}

// PreviewPolicy decides whether a file's content should be previewed.
type PreviewPolicy func(name string, size int64) bool

// Options control listing behavior.
type Options struct {
	Preview         PreviewPolicy
	MaxPreviewBytes int64
}

// DefaultPreview accepts small files with a text-like extension.
func DefaultPreview(name string, size int64) bool {
	return size < DefaultPreviewSizeLimit && textExtensions[strings.ToLower(filepath.Ext(name))]
}

// ExtensionPreview accepts files smaller than limit whose extension is in exts.
func ExtensionPreview(limit int64, exts ...string) PreviewPolicy {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return func(name string, size int64) bool {
		return size < limit && set[strings.ToLower(filepath.Ext(name))]
	}
}

// InspectionError reports a workspace that could not be listed.
type InspectionError struct {
	Path string
	Err  error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("inspect workspace %s: %v", e.Path, e.Err)
}

func (e *InspectionError) Unwrap() error { return e.Err }

// List returns the entries of dir sorted by name. Previews are attached to
// regular files accepted by the preview policy; a preview that cannot be
// read is silently left out.
func List(dir string, opts Options) ([]Entry, error) {
	if opts.Preview == nil {
		opts.Preview = DefaultPreview
	}
	if opts.MaxPreviewBytes <= 0 {
		opts.MaxPreviewBytes = DefaultMaxPreviewBytes
	}

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &InspectionError{Path: dir, Err: err}
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}

		e := Entry{
			Name:  de.Name(),
			Size:  info.Size(),
			IsDir: de.IsDir(),
		}
		if info.Mode().IsRegular() && opts.Preview(e.Name, e.Size) {
			if preview, err := readPreview(filepath.Join(dir, e.Name), opts.MaxPreviewBytes); err == nil {
				e.Preview = preview
				e.HasPreview = true
			}
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func readPreview(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
