package badger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const keyPrefix = "transcript/"

// Options configures the embedded store
type Options struct {
	// Dir is the data directory. Required unless InMemory is set.
	Dir      string
	InMemory bool
}

// TranscriptRepository stores msgpack encoded entries under
// transcript/{session}/{unix nanos}/{sequence} so keys sort by time.
type TranscriptRepository struct {
	db     *badger.DB
	seq    atomic.Uint64
	logger *zap.Logger
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// NewTranscriptRepository opens a badger database
func NewTranscriptRepository(opts Options, logger *zap.Logger) (*TranscriptRepository, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: Dir is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(zapLogger{logger.Sugar()})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	logger.Info("Opened badger transcript store",
		zap.String("dir", opts.Dir),
		zap.Bool("inMemory", opts.InMemory))

	return &TranscriptRepository{db: db, logger: logger}, nil
}

// Append implements repositories.TranscriptRepository
func (r *TranscriptRepository) Append(ctx context.Context, entry entities.TranscriptEntry) error {
	if entry.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	if strings.Contains(entry.SessionID, "/") {
		return fmt.Errorf("invalid session ID %q", entry.SessionID)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	val, err := msgpack.Marshal(&entry)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s%020d/%010d", sessionPrefix(entry.SessionID), entry.Timestamp.UnixNano(), r.seq.Add(1))
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
}

// Recent implements repositories.TranscriptRepository
func (r *TranscriptRepository) Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error) {
	prefix := []byte(sessionPrefix(sessionID))
	entries := []entities.TranscriptEntry{}

	err := r.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.Reverse = true
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var entry entities.TranscriptEntry
			if err := msgpack.Unmarshal(val, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteOlderThan implements repositories.TranscriptRepository
func (r *TranscriptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var stale [][]byte
	prefix := []byte(keyPrefix)

	err := r.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, ok := keyTimestamp(key)
			if !ok {
				r.logger.Warn("Skipping malformed transcript key", zap.ByteString("key", key))
				continue
			}
			if ts < cutoff.UnixNano() {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return int64(len(stale)), nil
}

// Close closes the database
func (r *TranscriptRepository) Close() error {
	return r.db.Close()
}

func sessionPrefix(sessionID string) string {
	return keyPrefix + sessionID + "/"
}

// keyTimestamp extracts the nanosecond timestamp from a transcript key
func keyTimestamp(key []byte) (int64, bool) {
	parts := strings.Split(strings.TrimPrefix(string(key), keyPrefix), "/")
	if len(parts) != 3 {
		return 0, false
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// zapLogger adapts zap to badger's logger, demoting info to debug
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Errorf(f string, v ...interface{})   { l.s.Errorf("badger: "+f, v...) }
func (l zapLogger) Warningf(f string, v ...interface{}) { l.s.Warnf("badger: "+f, v...) }
func (l zapLogger) Infof(f string, v ...interface{})    { l.s.Debugf("badger: "+f, v...) }
func (l zapLogger) Debugf(string, ...interface{})       {}
