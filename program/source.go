package program

import (
	"os"

	"go.dedis.ch/secretcompute/mpcerr"
)

// Source is where a program artifact comes from: a file or raw bytes.
type Source struct {
	path string
	data []byte
}

// FromPath reads the artifact from a file when loaded.
func FromPath(path string) Source {
	return Source{path: path}
}

// FromBytes uses data as the artifact.
func FromBytes(data []byte) Source {
	return Source{data: append([]byte(nil), data...)}
}

// Load returns the artifact bytes.
func (s Source) Load() ([]byte, error) {
	if s.path == "" {
		if len(s.data) == 0 {
			return nil, mpcerr.New(mpcerr.Registry, mpcerr.OpLoad, mpcerr.ErrArtifactNotFound,
				"empty artifact")
		}
		return s.data, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, mpcerr.Wrap(mpcerr.Registry, mpcerr.OpLoad, mpcerr.ErrArtifactNotFound, err).
			WithField(s.path)
	}
	return data, nil
}

// LoadManifest loads the artifact and parses its manifest.
func (s Source) LoadManifest() ([]byte, *Manifest, error) {
	data, err := s.Load()
	if err != nil {
		return nil, nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, nil, mpcerr.Wrap(mpcerr.Registry, mpcerr.OpLoad, mpcerr.ErrArtifactNotFound, err).
			WithField(s.String())
	}
	return data, m, nil
}

// String implements fmt.Stringer.
func (s Source) String() string {
	if s.path != "" {
		return s.path
	}
	return "<bytes>"
}
