package store

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"
	. "src.xyfit.dev/pkg/store/storedefs"
)

const (
	bucketDefinitions = "definitions"
	bucketNames       = "names"
)

func init() {
	initDB["initialize definition tables"] = func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDefinitions)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketNames))
		return err
	}
}

// AddDefinition records a definition. An earlier definition with the same
// name is replaced, and the new one goes last.
func (s *dbStore) AddDefinition(name, formula string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		defs := tx.Bucket([]byte(bucketDefinitions))
		names := tx.Bucket([]byte(bucketNames))
		if old := names.Get([]byte(name)); old != nil {
			if err := defs.Delete(old); err != nil {
				return err
			}
		}
		seq, err := defs.NextSequence()
		if err != nil {
			return err
		}
		key := marshalSeq(seq)
		if err := defs.Put(key, []byte(formula)); err != nil {
			return err
		}
		logger.Printf("stored definition %s as %d", name, seq)
		return names.Put([]byte(name), key)
	})
}

// DelDefinition deletes the definition with the given name.
func (s *dbStore) DelDefinition(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket([]byte(bucketNames))
		key := names.Get([]byte(name))
		if key == nil {
			return ErrNoDefinition
		}
		if err := tx.Bucket([]byte(bucketDefinitions)).Delete(key); err != nil {
			return err
		}
		return names.Delete([]byte(name))
	})
}

// Definitions returns all definitions in the order they were added.
func (s *dbStore) Definitions() ([]Definition, error) {
	var result []Definition
	err := s.db.View(func(tx *bolt.Tx) error {
		nameOf := make(map[uint64]string)
		err := tx.Bucket([]byte(bucketNames)).ForEach(func(k, v []byte) error {
			nameOf[unmarshalSeq(v)] = string(k)
			return nil
		})
		if err != nil {
			return err
		}
		c := tx.Bucket([]byte(bucketDefinitions)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			seq := unmarshalSeq(k)
			result = append(result, Definition{Name: nameOf[seq], Formula: string(v), Seq: int(seq)})
		}
		return nil
	})
	return result, err
}

func marshalSeq(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func unmarshalSeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}
