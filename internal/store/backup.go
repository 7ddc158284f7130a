package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	snapshotExt        = ".json.zst"
	snapshotTimeFormat = "20060102T150405Z"
)

// SnapshotName returns the file name of a collection snapshot taken at t.
// Names sort chronologically within a collection.
func SnapshotName(collection string, t time.Time) string {
	return collection + "." + t.UTC().Format(snapshotTimeFormat) + snapshotExt
}

// CollectionOf returns the collection a snapshot file belongs to.
func CollectionOf(path string) string {
	coll, _, _ := strings.Cut(filepath.Base(path), ".")
	return coll
}

// Backup writes one zstd-compressed JSON snapshot per ledger collection into
// dir and returns the paths written.
func Backup(ctx context.Context, s Store, dir string, now time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: backup: create %s: %w", dir, err)
	}
	var written []string
	for _, coll := range Ledgers {
		docs, err := s.ListAll(ctx, coll)
		if err != nil {
			return written, fmt.Errorf("store: backup %s: %w", coll, err)
		}
		path := filepath.Join(dir, SnapshotName(coll, now))
		if err := writeSnapshot(path, docs); err != nil {
			return written, fmt.Errorf("store: backup %s: %w", coll, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func writeSnapshot(path string, docs map[string][]byte) error {
	raw := make(map[string]json.RawMessage, len(docs))
	for k, v := range docs {
		raw[k] = json.RawMessage(v)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return err
	}
	if err := json.NewEncoder(enc).Encode(raw); err != nil {
		enc.Close()
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadSnapshot decodes a snapshot written by Backup.
func ReadSnapshot(path string) (map[string]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("store: read snapshot: %w", err)
	}
	defer dec.Close()
	var out map[string]json.RawMessage
	if err := json.NewDecoder(dec).Decode(&out); err != nil {
		return nil, fmt.Errorf("store: decode snapshot %s: %w", path, err)
	}
	return out, nil
}

// Restore replaces the contents of collection with a snapshot. Documents
// absent from the snapshot are deleted.
func Restore(ctx context.Context, s Store, collection, path string) (int, error) {
	docs, err := ReadSnapshot(path)
	if err != nil {
		return 0, err
	}
	current, err := s.ListAll(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("store: restore %s: %w", collection, err)
	}
	for k := range current {
		if _, ok := docs[k]; ok {
			continue
		}
		if err := s.Delete(ctx, collection, k); err != nil {
			return 0, fmt.Errorf("store: restore %s: delete %s: %w", collection, k, err)
		}
	}
	for k, v := range docs {
		if err := s.Put(ctx, collection, k, v); err != nil {
			return 0, fmt.Errorf("store: restore %s: put %s: %w", collection, k, err)
		}
	}
	return len(docs), nil
}

// Prune keeps the newest keep snapshots of each ledger collection in dir,
// ordered by file name, and deletes the rest. It returns the removed paths.
func Prune(dir string, keep int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: prune: %w", err)
	}

	byColl := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		coll, _, ok := strings.Cut(name, ".")
		if !ok {
			continue
		}
		byColl[coll] = append(byColl[coll], name)
	}

	var removed []string
	for _, coll := range Ledgers {
		names := byColl[coll]
		if len(names) <= keep {
			continue
		}
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for _, name := range names[keep:] {
			path := filepath.Join(dir, name)
			if err := os.Remove(path); err != nil {
				return removed, fmt.Errorf("store: prune %s: %w", name, err)
			}
			removed = append(removed, path)
		}
	}
	return removed, nil
}
