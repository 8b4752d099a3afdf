package cache

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"

	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/svcerr"
)

// Snapshot encodes the full name→record map as a compact binary blob. The
// transient provisioning claim is cleared in the snapshot; a claim from a
// dead process must not survive a restart.
func (c *Cache) Snapshot() ([]byte, error) {
	snapshot := make(map[string]model.Service)
	err := c.locked(func(services map[string]*model.Service) error {
		for name, svc := range services {
			rec := *svc
			rec.Provisioning = false
			snapshot[name] = rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return nil, svcerr.Serialization("encode cache snapshot", err)
	}
	return buf.Bytes(), nil
}

// Restore merges a snapshot produced by Snapshot into the cache. Loaded
// entries overwrite existing records with the same name; everything else is
// left untouched.
func (c *Cache) Restore(data []byte) error {
	var snapshot map[string]model.Service
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); err != nil {
		return svcerr.Serialization("decode cache snapshot", err)
	}

	return c.locked(func(services map[string]*model.Service) error {
		for name, rec := range snapshot {
			r := rec
			services[name] = &r
		}
		return nil
	})
}

// SnapshotBase64 returns the snapshot as a base64 string for out-of-band
// transport, such as embedding in another system's state store.
func (c *Cache) SnapshotBase64() (string, error) {
	data, err := c.Snapshot()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// RestoreBase64 merges a base64 payload produced by SnapshotBase64.
func (c *Cache) RestoreBase64(encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return svcerr.Serialization("decode base64 payload", err)
	}
	return c.Restore(data)
}
