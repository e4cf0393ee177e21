package infra

import (
	"context"
	"fmt"
	"time"

	"send-governor/governance/domain"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	usageBucket    = []byte("usage")
	cooldownBucket = []byte("cooldowns")
)

// BoltStore implementa CounterStore e CooldownTracker sobre um arquivo bbolt.
//
// bbolt serializa as transações de escrita, então o ler-somar-gravar dentro de
// um único Update é atômico para o processo dono do arquivo. Serve para
// implantações de nó único; com réplicas, use Redis ou Postgres.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("could not open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{usageBucket, cooldownBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not create bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Increment(_ context.Context, key domain.CounterKey, field domain.Field, delta int64) (int64, error) {
	k := []byte(counterKeyString(key))
	var out int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(usageBucket)
		var u domain.Usage
		if raw := b.Get(k); raw != nil {
			if err := msgpack.Unmarshal(raw, &u); err != nil {
				return fmt.Errorf("decode usage: %w", err)
			}
		}
		if field == domain.FieldReceived {
			u.Received += delta
			out = u.Received
		} else {
			u.Sent += delta
			out = u.Sent
		}
		raw, err := msgpack.Marshal(u)
		if err != nil {
			return fmt.Errorf("encode usage: %w", err)
		}
		return b.Put(k, raw)
	})
	if err != nil {
		return 0, fmt.Errorf("bolt increment: %w", err)
	}
	return out, nil
}

func (s *BoltStore) Read(_ context.Context, key domain.CounterKey) (domain.Usage, error) {
	var u domain.Usage
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(usageBucket).Get([]byte(counterKeyString(key)))
		if raw == nil {
			return nil
		}
		return msgpack.Unmarshal(raw, &u)
	})
	if err != nil {
		return domain.Usage{}, fmt.Errorf("bolt read: %w", err)
	}
	return u, nil
}

func (s *BoltStore) LastSentAt(_ context.Context, subject domain.Subject, scope domain.Scope, key string) (time.Time, bool, error) {
	var (
		nanos int64
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(cooldownBucket).Get([]byte(cooldownKeyString(subject, scope, key)))
		if raw == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(raw, &nanos)
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bolt cooldown read: %w", err)
	}
	if !found {
		return time.Time{}, false, nil
	}
	return time.Unix(0, nanos).UTC(), true, nil
}

func (s *BoltStore) Touch(_ context.Context, subject domain.Subject, scope domain.Scope, key string, now time.Time) error {
	raw, err := msgpack.Marshal(now.UnixNano())
	if err != nil {
		return fmt.Errorf("encode cooldown: %w", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cooldownBucket).Put([]byte(cooldownKeyString(subject, scope, key)), raw)
	})
	if err != nil {
		return fmt.Errorf("bolt cooldown touch: %w", err)
	}
	return nil
}
