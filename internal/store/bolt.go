package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"cosem-go/internal/cosem"
)

var (
	bucketObjects = []byte("objects")
	bucketSession = []byte("session")
	keySession    = []byte("state")
)

// encMode is deterministic so unchanged snapshots produce identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor decoder mode: %v", err))
	}
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Option configures a BoltStore.
type Option func(*BoltStore)

// WithLogger sets the logger used to report records that cannot be restored.
func WithLogger(l *slog.Logger) Option {
	return func(s *BoltStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketObjects, bucketSession} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	s := &BoltStore{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s, nil
}

func putObject(b *bolt.Bucket, obj cosem.Object) error {
	rec, err := Snapshot(obj)
	if err != nil {
		return err
	}
	data, err := encMode.Marshal(rec)
	if err != nil {
		return err
	}
	ln, _ := cosem.LogicalNameFromBytes(rec.LogicalName)
	return b.Put(objectKey(rec.ClassID, ln), data)
}

func (s *BoltStore) loadObject(f *cosem.Factory, data []byte) (cosem.Object, error) {
	var rec ObjectRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return Restore(f, &rec, s.logger)
}

func (s *BoltStore) SaveObject(obj cosem.Object) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketObjects)
		}
		return putObject(b, obj)
	})
}

func (s *BoltStore) SaveCollection(c *cosem.Collection) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketObjects)
		}
		for _, obj := range c.All() {
			if err := putObject(b, obj); err != nil {
				id := obj.Identity()
				return fmt.Errorf("save %s %s: %w", id.Type, id.LogicalName, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) LoadObject(f *cosem.Factory, classID uint16, ln cosem.LogicalName) (cosem.Object, error) {
	var obj cosem.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketObjects)
		}
		data := b.Get(objectKey(classID, ln))
		if data == nil {
			return fmt.Errorf("object %d/%s: %w", classID, ln, ErrNotFound)
		}
		var err error
		obj, err = s.loadObject(f, data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *BoltStore) UpdateObject(f *cosem.Factory, classID uint16, ln cosem.LogicalName, fn func(obj cosem.Object) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketObjects)
		}
		data := b.Get(objectKey(classID, ln))
		if data == nil {
			return fmt.Errorf("object %d/%s: %w", classID, ln, ErrNotFound)
		}
		obj, err := s.loadObject(f, data)
		if err != nil {
			return err
		}
		if err := fn(obj); err != nil {
			return err
		}
		return putObject(b, obj)
	})
}

func (s *BoltStore) DeleteObject(classID uint16, ln cosem.LogicalName) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketObjects)
		}
		return b.Delete(objectKey(classID, ln))
	})
}

// ListObjects restores every stored object. Records that cannot be restored
// at all are skipped with a warning.
func (s *BoltStore) ListObjects(f *cosem.Factory) ([]cosem.Object, error) {
	var objects []cosem.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketObjects)
		if b == nil {
			return nil // no bucket = no objects
		}
		objects = make([]cosem.Object, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			obj, err := s.loadObject(f, v)
			if err != nil {
				s.logger.Warn("skipping stored object", "key", string(k), "err", err)
				return nil
			}
			objects = append(objects, obj)
			return nil
		})
	})
	return objects, err
}

func (s *BoltStore) SaveSession(state *SessionState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSession)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSession)
		}
		data, err := encMode.Marshal(state)
		if err != nil {
			return err
		}
		return b.Put(keySession, data)
	})
}

func (s *BoltStore) GetSession() (*SessionState, error) {
	var state SessionState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSession)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSession)
		}
		data := b.Get(keySession)
		if data == nil {
			return fmt.Errorf("session: %w", ErrNotFound)
		}
		return decMode.Unmarshal(data, &state)
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)
