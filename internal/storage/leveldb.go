// Package storage persists named cache stores in LevelDB.
package storage

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"pmworker/internal/pmworker"
)

// Key layout:
//
//	n:<store>                      store registry, value is gob(storeMeta)
//	e:<store>\x00<method> <url>    gob(pmworker.Entry)
const (
	storePrefix = "n:"
	entryPrefix = "e:"
	keySep      = "\x00"
)

type storeMeta struct {
	CreatedAt int64
}

type storeStats struct {
	entries int
	bytes   int64
	sizes   map[string]int64
}

// LevelDB implements pmworker.CacheStorage.
type LevelDB struct {
	db *leveldb.DB

	mu    sync.Mutex
	index map[string]*storeStats
}

var _ pmworker.CacheStorage = (*LevelDB)(nil)

func OpenLevelDB(path string, writeBuffer int64) (*LevelDB, error) {
	var o *opt.Options
	if writeBuffer > 0 {
		o = &opt.Options{WriteBuffer: int(writeBuffer)}
	}
	db, err := leveldb.OpenFile(path, o)
	if err != nil {
		return nil, err
	}
	s := &LevelDB{db: db, index: map[string]*storeStats{}}
	if err := s.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LevelDB) Close() error {
	return s.db.Close()
}

func (s *LevelDB) loadIndex() error {
	names := map[string]*storeStats{}
	it := s.db.NewIterator(util.BytesPrefix([]byte(storePrefix)), nil)
	for it.Next() {
		names[string(bytes.TrimPrefix(it.Key(), []byte(storePrefix)))] = &storeStats{sizes: map[string]int64{}}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	it = s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix)), nil)
	defer it.Release()
	for it.Next() {
		rest := string(bytes.TrimPrefix(it.Key(), []byte(entryPrefix)))
		name, key, ok := strings.Cut(rest, keySep)
		if !ok {
			continue
		}
		st, ok := names[name]
		if !ok {
			continue
		}
		sz := int64(len(it.Value()))
		st.sizes[key] = sz
		st.entries++
		st.bytes += sz
	}
	if err := it.Error(); err != nil {
		return err
	}

	s.mu.Lock()
	s.index = names
	s.mu.Unlock()
	return nil
}

func (s *LevelDB) Open(_ context.Context, name string) (pmworker.Cache, error) {
	if name == "" {
		return nil, errors.New("empty cache name")
	}
	s.mu.Lock()
	_, ok := s.index[name]
	s.mu.Unlock()
	if !ok {
		b, err := encodeGob(storeMeta{CreatedAt: time.Now().Unix()})
		if err != nil {
			return nil, err
		}
		if err := s.db.Put([]byte(storePrefix+name), b, nil); err != nil {
			return nil, fmt.Errorf("register store %s: %w", name, err)
		}
		s.mu.Lock()
		if _, ok := s.index[name]; !ok {
			s.index[name] = &storeStats{sizes: map[string]int64{}}
		}
		s.mu.Unlock()
	}
	return &levelCache{s: s, name: name}, nil
}

func (s *LevelDB) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	_, ok := s.index[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	it := s.db.NewIterator(util.BytesPrefix([]byte(entryPrefix+name+keySep)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete([]byte(storePrefix + name))
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}

	s.mu.Lock()
	delete(s.index, name)
	s.mu.Unlock()
	return true, nil
}

func (s *LevelDB) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.index))
	for name := range s.index {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// TotalSize is the encoded size of every entry across all stores.
func (s *LevelDB) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, st := range s.index {
		total += st.bytes
	}
	return total
}

// KeyCount is the number of entries across all stores.
func (s *LevelDB) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.index {
		n += st.entries
	}
	return n
}

type levelCache struct {
	s    *LevelDB
	name string
}

func (c *levelCache) dbKey(key pmworker.RequestKey) []byte {
	return []byte(entryPrefix + c.name + keySep + key.String())
}

func (c *levelCache) Match(_ context.Context, key pmworker.RequestKey) (pmworker.Entry, bool, error) {
	b, err := c.s.db.Get(c.dbKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return pmworker.Entry{}, false, nil
	}
	if err != nil {
		return pmworker.Entry{}, false, err
	}
	var ent pmworker.Entry
	if err := decodeGob(b, &ent); err != nil {
		return pmworker.Entry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return ent, true, nil
}

// Put overwrites any previous entry; concurrent writers race and the last
// one wins.
func (c *levelCache) Put(_ context.Context, key pmworker.RequestKey, ent pmworker.Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Put(c.dbKey(key), b)
	c.s.mu.Lock()
	_, registered := c.s.index[c.name]
	c.s.mu.Unlock()
	if !registered {
		// store was deleted between Open and Put
		mb, err := encodeGob(storeMeta{CreatedAt: time.Now().Unix()})
		if err != nil {
			return err
		}
		batch.Put([]byte(storePrefix+c.name), mb)
	}
	if err := c.s.db.Write(batch, nil); err != nil {
		return err
	}

	sz := int64(len(b))
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	st, ok := c.s.index[c.name]
	if !ok {
		st = &storeStats{sizes: map[string]int64{}}
		c.s.index[c.name] = st
	}
	if old, ok := st.sizes[key.String()]; ok {
		st.bytes -= old
	} else {
		st.entries++
	}
	st.sizes[key.String()] = sz
	st.bytes += sz
	return nil
}

func (c *levelCache) Keys(_ context.Context) ([]pmworker.RequestKey, error) {
	prefix := []byte(entryPrefix + c.name + keySep)
	it := c.s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()

	var out []pmworker.RequestKey
	for it.Next() {
		k, ok := pmworker.ParseRequestKey(string(bytes.TrimPrefix(it.Key(), prefix)))
		if ok {
			out = append(out, k)
		}
	}
	return out, it.Error()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
