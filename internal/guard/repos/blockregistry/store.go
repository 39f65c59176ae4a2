package blockregistry

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/egress-guard/internal/guard/domain"
)

var (
	bucketBlocked = []byte("blocked")
	bucketMeta    = []byte("meta")
	keyUpdated    = []byte("updated")
)

// Stats reports registry counts and metadata.
type Stats struct {
	Blocked     uint64
	UpdatedUnix int64 // seconds since epoch, 0 if never written
}

// Store remembers which addresses this host has blocked so the rules can be
// re-applied after the packet-filter table is reset.
//
// Values in the blocked bucket are an 8-byte big-endian unix time followed by
// the hostname the address was resolved from, if any.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) a Bolt database at path and ensures buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlocked); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record stores or refreshes the entry for rec.Addr.
func (s *Store) Record(rec domain.BlockRecord) error {
	if !rec.Addr.IsValid() {
		return fmt.Errorf("%w: zero address", domain.ErrInvalidAddress)
	}
	val := make([]byte, 8+len(rec.Hostname))
	binary.BigEndian.PutUint64(val, uint64(rec.BlockedAt.Unix()))
	copy(val[8:], rec.Hostname)

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketBlocked).Put([]byte(rec.Addr.String()), val); err != nil {
			return err
		}
		return touch(tx, rec.BlockedAt)
	})
}

// Remove deletes the entry for addr and reports whether one existed.
func (s *Store) Remove(addr netip.Addr, at time.Time) (bool, error) {
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlocked)
		key := []byte(addr.String())
		if b.Get(key) == nil {
			return nil
		}
		existed = true
		if err := b.Delete(key); err != nil {
			return err
		}
		return touch(tx, at)
	})
	return existed, err
}

// List returns every recorded block in address key order.
// Entries with unparseable keys or values are skipped.
func (s *Store) List() ([]domain.BlockRecord, error) {
	var out []domain.BlockRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocked).ForEach(func(k, v []byte) error {
			addr, err := netip.ParseAddr(string(k))
			if err != nil || len(v) < 8 {
				return nil
			}
			out = append(out, domain.BlockRecord{
				Addr:      addr,
				BlockedAt: time.Unix(int64(binary.BigEndian.Uint64(v[:8])), 0),
				Hostname:  string(v[8:]),
			})
			return nil
		})
	})
	return out, err
}

func (s *Store) Stats() Stats {
	st := Stats{}
	_ = s.db.View(func(tx *bbolt.Tx) error {
		st.Blocked = uint64(tx.Bucket(bucketBlocked).Stats().KeyN)
		if v := tx.Bucket(bucketMeta).Get(keyUpdated); len(v) == 8 {
			st.UpdatedUnix = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return st
}

func touch(tx *bbolt.Tx, at time.Time) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(at.Unix()))
	return tx.Bucket(bucketMeta).Put(keyUpdated, buf)
}
