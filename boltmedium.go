package cachekit

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltMediumOptions controls BoltMedium.
type BoltMediumOptions struct {
	// Bucket is the name of the Bolt bucket to use, default "cachekit".
	Bucket string

	// MaxBytes makes the medium itself reject writes that would push total
	// stored key+value bytes past this budget, returning ErrMediumQuota.
	// Zero disables the medium-side limit.
	MaxBytes int
}

// BoltMedium is a file-backed Medium on top of bbolt. It enforces its own
// byte budget the way a size-limited host medium would, independently of the
// QuotaStore accounting layered above it.
type BoltMedium struct {
	db       *bolt.DB
	bucket   []byte
	maxBytes int
}

var _ Medium = &BoltMedium{}

// OpenBoltMedium initializes or opens a BoltMedium at the given path.
func OpenBoltMedium(path string, opts ...BoltMediumOptions) (*BoltMedium, error) {
	options := BoltMediumOptions{}

	if len(opts) >= 1 {
		options = opts[0]
	}

	if options.Bucket == "" {
		options.Bucket = "cachekit"
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	bucket := []byte(options.Bucket)

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)

		return err
	}); err != nil {
		_ = db.Close()

		return nil, err
	}

	return &BoltMedium{
		db:       db,
		bucket:   bucket,
		maxBytes: options.MaxBytes,
	}, nil
}

// Close closes the underlying database.
func (m *BoltMedium) Close() error {
	if m == nil || m.db == nil {
		return nil
	}

	return m.db.Close()
}

// Read returns the stored value and whether the key exists.
func (m *BoltMedium) Read(key string) (string, bool, error) {
	var (
		out   []byte
		found bool
	)

	err := m.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(m.bucket).Get([]byte(key))
		if v == nil {
			return nil
		}

		found = true
		out = append([]byte(nil), v...)

		return nil
	})
	if err != nil {
		return "", false, err
	}

	return string(out), found, nil
}

// Write stores value under key, rejecting with ErrMediumQuota when the write
// would exceed the medium's own byte budget.
func (m *BoltMedium) Write(key, value string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(m.bucket)

		if m.maxBytes > 0 {
			total := len(key) + len(value)

			c := b.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				if string(k) == key {
					continue
				}

				total += len(k) + len(v)
			}

			if total > m.maxBytes {
				return ErrMediumQuota
			}
		}

		return b.Put([]byte(key), []byte(value))
	})
}

// Remove deletes key. Removing an absent key is not an error.
func (m *BoltMedium) Remove(key string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(m.bucket).Delete([]byte(key))
	})
}

// Keys enumerates stored keys in byte order.
func (m *BoltMedium) Keys() ([]string, error) {
	keys := make([]string, 0)

	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(m.bucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}
