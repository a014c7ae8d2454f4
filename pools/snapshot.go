package pools

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
)

// Snapshot is the persisted pool cache, stored as snappy framed JSON.
type Snapshot struct {
	LastBlockNumber uint64 `json:"last_block_number"`
	Pools           []Pool `json:"pools"`
}

// LoadSnapshot reads a snapshot from file. A missing file is an empty snapshot.
func LoadSnapshot(file string) (Snapshot, error) {
	f, err := os.Open(file)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	} else if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	var snap Snapshot
	if err := json.NewDecoder(snappy.NewReader(f)).Decode(&snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// SaveSnapshot atomically replaces file with snap.
func SaveSnapshot(file string, snap Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), filepath.Base(file)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := snappy.NewBufferedWriter(tmp)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Close(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), file)
}
