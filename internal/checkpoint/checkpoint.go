// Package checkpoint persists model parameters and the training record of a
// run in a LevelDB store.
package checkpoint

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"strings"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"gorgonia.org/tensor"
)

// ErrNotFound is returned when a run has no checkpoint.
var ErrNotFound = errors.New("checkpoint not found")

// Record is the training state saved with the parameters.
type Record struct {
	ValScore   float64 `json:"val_score"`
	TestScore  float64 `json:"test_score"`
	Epoch      int     `json:"epoch"`
	GlobalStep int     `json:"global_step"`
	Best       bool    `json:"best"`
}

// Store saves and restores checkpoints by run name.
type Store interface {
	Save(run string, params map[string]*tensor.Dense, rec Record) error
	Load(run string) (map[string]*tensor.Dense, Record, error)
	Close() error
}

// LevelDB stores each parameter under run/param/<name>, the latest record
// under run/state and the last record flagged best under run/best.
type LevelDB struct {
	db *leveldb.DB
}

// Open opens or creates the store in dir.
func Open(dir string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint store %s", dir)
	}
	return &LevelDB{db: db}, nil
}

func paramPrefix(run string) string { return run + "/param/" }
func stateKey(run string) []byte    { return []byte(run + "/state") }
func bestKey(run string) []byte     { return []byte(run + "/best") }

// Save writes the parameters and record in one batch. Optimizer moments are
// not part of a checkpoint.
func (s *LevelDB) Save(run string, params map[string]*tensor.Dense, rec Record) error {
	batch := new(leveldb.Batch)
	for name, t := range params {
		buf, err := encodeTensor(t)
		if err != nil {
			return errors.Wrapf(err, "encoding %s", name)
		}
		batch.Put([]byte(paramPrefix(run)+name), buf)
	}
	state, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	batch.Put(stateKey(run), state)
	if rec.Best {
		batch.Put(bestKey(run), state)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "saving checkpoint %s", run)
	}
	return nil
}

// Load returns the parameters and latest record of run.
func (s *LevelDB) Load(run string) (map[string]*tensor.Dense, Record, error) {
	rec, err := s.record(stateKey(run))
	if err != nil {
		return nil, Record{}, errors.Wrapf(err, "run %s", run)
	}

	params := make(map[string]*tensor.Dense)
	prefix := paramPrefix(run)
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	for it.Next() {
		name := strings.TrimPrefix(string(it.Key()), prefix)
		t, err := decodeTensor(it.Value())
		if err != nil {
			return nil, Record{}, errors.Wrapf(err, "decoding %s", name)
		}
		params[name] = t
	}
	if err := it.Error(); err != nil {
		return nil, Record{}, err
	}
	return params, rec, nil
}

// Best returns the last record of run that was flagged best.
func (s *LevelDB) Best(run string) (Record, error) {
	rec, err := s.record(bestKey(run))
	if err != nil {
		return Record{}, errors.Wrapf(err, "run %s", run)
	}
	return rec, nil
}

func (s *LevelDB) record(key []byte) (Record, error) {
	raw, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close closes the underlying database.
func (s *LevelDB) Close() error { return s.db.Close() }

type tensorRecord struct {
	Shape []int
	Data  []float32
}

func encodeTensor(t *tensor.Dense) ([]byte, error) {
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unsupported dtype %v", t.Dtype())
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(tensorRecord{Shape: t.Shape().Clone(), Data: data}); err != nil {
		return nil, err
	}
	return snappy.Encode(nil, buf.Bytes()), nil
}

func decodeTensor(raw []byte) (*tensor.Dense, error) {
	plain, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, err
	}
	var r tensorRecord
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&r); err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(r.Shape...), tensor.WithBacking(r.Data)), nil
}
