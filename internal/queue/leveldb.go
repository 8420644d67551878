package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"pmworker/internal/pmworker"
)

// Key layout:
//
//	q:<seq big-endian uint64>   json(OfflineAction)
//	i:<id>                      seq
const (
	seqPrefix = "q:"
	idPrefix  = "i:"
)

// LevelDB is the default durable queue.
type LevelDB struct {
	db *leveldb.DB

	mu  sync.Mutex
	seq uint64
}

func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	q := &LevelDB{db: db}

	it := db.NewIterator(util.BytesPrefix([]byte(seqPrefix)), nil)
	if it.Last() {
		q.seq = binary.BigEndian.Uint64(it.Key()[len(seqPrefix):])
	}
	it.Release()
	if err := it.Error(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, len(seqPrefix)+8)
	copy(k, seqPrefix)
	binary.BigEndian.PutUint64(k[len(seqPrefix):], seq)
	return k
}

func (q *LevelDB) Enqueue(_ context.Context, a pmworker.OfflineAction) (string, error) {
	a, err := prepare(a)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if ok, err := q.db.Has([]byte(idPrefix+a.ID), nil); err != nil {
		return "", err
	} else if ok {
		return "", fmt.Errorf("offline action %s already queued", a.ID)
	}
	seq := q.seq + 1
	batch := new(leveldb.Batch)
	batch.Put(seqKey(seq), b)
	batch.Put([]byte(idPrefix+a.ID), seqKey(seq)[len(seqPrefix):])
	if err := q.db.Write(batch, nil); err != nil {
		return "", err
	}
	q.seq = seq
	return a.ID, nil
}

func (q *LevelDB) List(context.Context) ([]pmworker.OfflineAction, error) {
	it := q.db.NewIterator(util.BytesPrefix([]byte(seqPrefix)), nil)
	defer it.Release()

	var out []pmworker.OfflineAction
	for it.Next() {
		var a pmworker.OfflineAction
		if err := json.Unmarshal(it.Value(), &a); err != nil {
			return nil, fmt.Errorf("decode queued action: %w", err)
		}
		out = append(out, a)
	}
	return out, it.Error()
}

func (q *LevelDB) lookup(id string) ([]byte, error) {
	seq, err := q.db.Get([]byte(idPrefix+id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("offline action %s: %w", id, pmworker.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(seqPrefix), seq...), nil
}

func (q *LevelDB) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	key, err := q.lookup(id)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(key)
	batch.Delete([]byte(idPrefix + id))
	return q.db.Write(batch, nil)
}

func (q *LevelDB) RecordFailure(_ context.Context, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	key, err := q.lookup(id)
	if err != nil {
		return 0, err
	}
	b, err := q.db.Get(key, nil)
	if err != nil {
		return 0, err
	}
	var a pmworker.OfflineAction
	if err := json.Unmarshal(b, &a); err != nil {
		return 0, err
	}
	a.Attempts++
	if b, err = json.Marshal(a); err != nil {
		return 0, err
	}
	if err := q.db.Put(key, b, nil); err != nil {
		return 0, err
	}
	return a.Attempts, nil
}

func (q *LevelDB) Close() error { return q.db.Close() }
