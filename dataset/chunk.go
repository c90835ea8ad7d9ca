package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrChunkExists reports a refusal to replace an existing chunk file.
var ErrChunkExists = errors.New("chunk file already exists")

// ChunkFile is the on-disk container for one chunk: scenario records keyed
// scenario_%06d plus two chunk-level attributes. NScenarios counts the
// records actually present, which can be fewer than the chunk requested
// when scenarios were dropped.
type ChunkFile struct {
	NScenarios int32              `msgpack:"n_scenarios"`
	FileName   string             `msgpack:"chunk_file"`
	Scenarios  map[string]*Record `msgpack:"scenarios"`
}

var _ msgpack.CustomEncoder = (*ChunkFile)(nil)

// EncodeMsgpack writes the container with scenario keys in ascending order
// so identical content always produces identical bytes.
func (c *ChunkFile) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(3); err != nil {
		return err
	}
	if err := enc.EncodeString("n_scenarios"); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(c.NScenarios)); err != nil {
		return err
	}
	if err := enc.EncodeString("chunk_file"); err != nil {
		return err
	}
	if err := enc.EncodeString(c.FileName); err != nil {
		return err
	}
	if err := enc.EncodeString("scenarios"); err != nil {
		return err
	}
	if err := enc.EncodeMapLen(len(c.Scenarios)); err != nil {
		return err
	}
	for _, k := range c.Keys() {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(c.Scenarios[k]); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns the scenario group names in ascending order.
func (c *ChunkFile) Keys() []string {
	keys := make([]string, 0, len(c.Scenarios))
	for k := range c.Scenarios {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChunkWriter persists finished chunks write-once: the file appears under
// its final name only after every byte is on disk, so a file's existence
// is proof of a completed chunk.
type ChunkWriter struct {
	// Force permits replacing an existing chunk file. Off by default.
	Force bool
}

// Write serializes records into dir under the canonical chunk file name,
// going through a temporary file in the same directory and an atomic
// rename. Records must be non-empty; a zero-success chunk writes no file.
// Returns the final path.
func (w *ChunkWriter) Write(dir string, chunkIndex int, records []*Record) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("ChunkWriter: chunk %d has no records to write", chunkIndex)
	}
	name := ChunkFileName(chunkIndex)
	path := filepath.Join(dir, name)

	if !w.Force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("%w: %s", ErrChunkExists, path)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ChunkWriter: %w", err)
	}

	chunk := &ChunkFile{
		NScenarios: int32(len(records)),
		FileName:   name,
		Scenarios:  make(map[string]*Record, len(records)),
	}
	for _, rec := range records {
		if rec == nil || rec.Metadata == nil {
			return "", fmt.Errorf("ChunkWriter: chunk %d holds a record without metadata", chunkIndex)
		}
		key := ScenarioKey(int(rec.Metadata.ScenarioID))
		if _, dup := chunk.Scenarios[key]; dup {
			return "", fmt.Errorf("ChunkWriter: chunk %d holds scenario %d twice", chunkIndex, rec.Metadata.ScenarioID)
		}
		chunk.Scenarios[key] = rec
	}

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("ChunkWriter: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if err := msgpack.NewEncoder(tmp).Encode(chunk); err != nil {
		tmp.Close()
		return "", fmt.Errorf("ChunkWriter: encode chunk %d: %w", chunkIndex, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("ChunkWriter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("ChunkWriter: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("ChunkWriter: %w", err)
	}
	return path, nil
}

// ReadChunk loads and decodes one container file.
func ReadChunk(path string) (*ChunkFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadChunk: %w", err)
	}
	defer f.Close()

	var chunk ChunkFile
	if err := msgpack.NewDecoder(f).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("ReadChunk %s: %w", path, err)
	}
	return &chunk, nil
}
