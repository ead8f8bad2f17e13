package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aristath/derivscript/internal/store"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	keyPrefix = "derivscript-run-"
	keySuffix = ".msgpack.gz"
	tsLayout  = "2006-01-02-150405"

	minArchivesToKeep = 3
)

// Record describes one archived run, as recovered from its object key.
type Record struct {
	ID        string
	Timestamp time.Time
	SizeBytes int64
}

// Service archives run_history rows to object storage and rotates old
// ones out, the way the teacher's R2BackupService manages its own backup
// lifecycle.
type Service struct {
	client Client
	store  *store.Store
	log    zerolog.Logger
}

// New returns a Service. Callers should only construct one when archiving
// is actually configured (cmd/server does so only when the config's
// S3Bucket is non-empty).
func New(client Client, st *store.Store, log zerolog.Logger) *Service {
	return &Service{client: client, store: st, log: log.With().Str("component", "archive").Logger()}
}

func objectKey(id string, ts time.Time) string {
	return fmt.Sprintf("%s%s-%s%s", keyPrefix, ts.UTC().Format(tsLayout), id, keySuffix)
}

func parseObjectKey(key string) (time.Time, string, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, keySuffix) {
		return time.Time{}, "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), keySuffix)
	if len(rest) <= len(tsLayout)+1 || rest[len(tsLayout)] != '-' {
		return time.Time{}, "", false
	}
	ts, err := time.Parse(tsLayout, rest[:len(tsLayout)])
	if err != nil {
		return time.Time{}, "", false
	}
	return ts, rest[len(tsLayout)+1:], true
}

// ArchiveRun loads a saved run by id, gzip-compresses its msgpack encoding,
// and uploads it under a timestamped key.
func (s *Service) ArchiveRun(ctx context.Context, id string) error {
	rec, err := s.store.GetRun(ctx, id)
	if err != nil {
		return fmt.Errorf("archive: loading run %s: %w", id, err)
	}

	blob, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: encoding run %s: %w", id, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(blob); err != nil {
		return fmt.Errorf("archive: compressing run %s: %w", id, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive: closing compressor for run %s: %w", id, err)
	}

	checksum := sha256.Sum256(buf.Bytes())
	key := objectKey(id, rec.CreatedAt)
	if err := s.client.Upload(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		return fmt.Errorf("archive: uploading run %s: %w", id, err)
	}

	s.log.Info().
		Str("run_id", id).
		Str("key", key).
		Str("checksum", fmt.Sprintf("sha256:%x", checksum)).
		Int("size_bytes", buf.Len()).
		Msg("archived pricing run")
	return nil
}

// ListArchives returns every archived run, newest first.
func (s *Service) ListArchives(ctx context.Context) ([]Record, error) {
	objects, err := s.client.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("archive: listing: %w", err)
	}

	records := make([]Record, 0, len(objects))
	for _, obj := range objects {
		ts, id, ok := parseObjectKey(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("skipping archive with unrecognized key")
			continue
		}
		records = append(records, Record{ID: id, Timestamp: ts, SizeBytes: obj.Size})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	return records, nil
}

// RotateOldArchives deletes archives older than retentionDays, always
// keeping at least the 3 most recent regardless of age. retentionDays <= 0
// disables rotation: everything beyond the minimum is kept.
func (s *Service) RotateOldArchives(ctx context.Context, retentionDays int) error {
	records, err := s.ListArchives(ctx)
	if err != nil {
		return fmt.Errorf("archive: listing for rotation: %w", err)
	}

	if len(records) <= minArchivesToKeep {
		s.log.Debug().Int("count", len(records)).Msg("too few archives to rotate")
		return nil
	}

	var cutoff time.Time
	if retentionDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -retentionDays)
	}

	deleted := 0
	for i, rec := range records {
		if i < minArchivesToKeep || retentionDays <= 0 {
			continue
		}
		if !rec.Timestamp.Before(cutoff) {
			continue
		}
		key := objectKey(rec.ID, rec.Timestamp)
		if err := s.client.Delete(ctx, key); err != nil {
			s.log.Error().Err(err).Str("run_id", rec.ID).Msg("failed to delete old archive")
			continue
		}
		s.log.Info().Str("run_id", rec.ID).Time("timestamp", rec.Timestamp).Msg("deleted old archive")
		deleted++
	}

	s.log.Info().Int("deleted", deleted).Int("remaining", len(records)-deleted).Msg("archive rotation completed")
	return nil
}
