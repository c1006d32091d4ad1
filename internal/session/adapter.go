package session

import (
	"os"
	"path/filepath"

	"github.com/edhor1608/stead/internal/steaderr"
)

// Adapter is the small, fixed capability set each CLI source implements.
// There is no open registration mechanism: adapters live in the switch in
// adapterFor, and a new CLI source is added there, not through a plugin
// interface.
type Adapter interface {
	Source() Source
	// Discover lists candidate artifact file paths under root.
	Discover(root string) ([]string, error)
	// Parse reads and normalizes a single artifact file.
	Parse(path string) (Record, error)
}

// adapterFor returns the adapter for a fixed, known source.
func adapterFor(src Source) (Adapter, bool) {
	switch src {
	case SourceClaude:
		return claudeAdapter{}, true
	case SourceCodex:
		return codexAdapter{}, true
	case SourceOpencode:
		return opencodeAdapter{}, true
	default:
		return nil, false
	}
}

// AdapterFor exposes adapterFor to callers outside the package, such as the
// daemon's session.parse command handler.
func AdapterFor(src Source) (Adapter, bool) {
	return adapterFor(src)
}

// Sources lists every supported CLI source, in the fixed, stable order
// adapters are registered in.
func Sources() []Source {
	return []Source{SourceClaude, SourceCodex, SourceOpencode}
}

// discoverFiles is a shared helper: it walks root recursively and returns
// every file with the given extension (JSON/JSONL artifact files).
func discoverFiles(root string, ext string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			nested, err := discoverFiles(filepath.Join(root, e.Name()), ext)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		if filepath.Ext(e.Name()) == ext {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	return out, nil
}

func invalidJSON(path string, err error) error {
	return steaderr.NewAdapterInvalidJSON(path, err)
}

func invalidFormat(path, reason string) error {
	return steaderr.NewAdapterInvalidFormat(path, reason)
}
