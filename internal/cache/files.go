package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/flowcache/internal/models"
	"github.com/charlesng35/flowcache/internal/policy"
	"github.com/charlesng35/flowcache/pkg/compress"
	"github.com/charlesng35/flowcache/pkg/metrics"
)

const (
	kindFile       = "file"
	tempFilePrefix = ".tmp-"
)

// File is a live file-cache entry together with its decoded contents.
type File struct {
	Key            string
	Data           []byte
	MimeType       string
	SizeBytes      int64
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// FileStore caches binary blobs as uniquely named files in the cache directory.
// Rows store the file name relative to that directory.
type FileStore struct {
	*core

	touchOnRead bool
	compressor  compress.Compressor
}

// SetFile writes data to a new owned file and points key at it. The previous file for key,
// if any, is deleted only after the row references the new one.
func (s *FileStore) SetFile(ctx context.Context, key string, data []byte, ttl time.Duration, mimeType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	encoded, err := s.compressor.Encode(data)
	if err != nil {
		return fmt.Errorf("cache: encode file %q: %w", key, err)
	}

	var previous models.FileCacheEntry
	err = s.db.WithContext(ctx).Take(&previous, keyIs(key)).Error
	hasPrevious := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return storageError("set file", err)
	}

	name := uuid.NewString() + s.compressor.Extension()
	if err := s.writeFile(name, encoded); err != nil {
		return storageError("write file", err)
	}

	now := s.clock()
	entry := models.FileCacheEntry{
		Key:            key,
		FilePath:       name,
		SizeBytes:      int64(len(encoded)),
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.policy.TTLOrDefault(policy.CategoryFile, ttl)),
		LastAccessedAt: now,
	}
	mime := strings.TrimSpace(mimeType)
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	entry.MimeType = &mime

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"file_path", "size_bytes", "mime_type", "created_at", "expires_at", "last_accessed_at",
			}),
		}).Create(&entry).Error
	if err != nil {
		s.removeOwnedFile(name)
		return storageError("set file", err)
	}

	if hasPrevious && previous.FilePath != name {
		s.removeOwnedFile(previous.FilePath)
	}
	return nil
}

// GetFile returns the decoded blob for key. A row whose file vanished or no longer decodes is
// deleted and reported as a miss.
func (s *FileStore) GetFile(ctx context.Context, key string) (*File, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	row, ok, err := s.liveRow(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	path := s.path(row.FilePath)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.heal(ctx, kindFile, &FileMissingError{Key: key, Path: path}, func(ctx context.Context) error {
			return s.deleteRow(ctx, key)
		})
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("read file", err)
	}

	data, decodeErr := s.decode(key, row.FilePath, raw)
	if decodeErr != nil {
		s.heal(ctx, kindFile, decodeErr, func(ctx context.Context) error {
			return s.RemoveFile(ctx, key)
		})
		return nil, false, nil
	}

	metrics.CacheLookups.WithLabelValues(kindFile, "hit").Inc()

	now := s.clock()
	if s.touchOnRead {
		s.tasks.Go("touch file "+key, func(ctx context.Context) error {
			return s.db.WithContext(ctx).
				Model(&models.FileCacheEntry{}).
				Where(keyIs(key)).
				Where("file_path = ?", row.FilePath).
				Update("last_accessed_at", now).Error
		})
	}

	file := &File{
		Key:            row.Key,
		Data:           data,
		SizeBytes:      row.SizeBytes,
		CreatedAt:      row.CreatedAt,
		ExpiresAt:      row.ExpiresAt,
		LastAccessedAt: row.LastAccessedAt,
	}
	if row.MimeType != nil {
		file.MimeType = *row.MimeType
	}
	return file, true, nil
}

// ExistsFile reports whether key has a live row backed by a file on disk. A row whose file
// vanished is healed.
func (s *FileStore) ExistsFile(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	row, ok, err := s.liveRow(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	path := s.path(row.FilePath)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		s.heal(ctx, kindFile, &FileMissingError{Key: key, Path: path}, func(ctx context.Context) error {
			return s.deleteRow(ctx, key)
		})
		return false, nil
	} else if err != nil {
		return false, storageError("stat file", err)
	}
	return true, nil
}

// RemoveFile deletes the file for key, then its row. Removing an absent key is not an error.
func (s *FileStore) RemoveFile(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	var row models.FileCacheEntry
	err := s.db.WithContext(ctx).Take(&row, keyIs(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return storageError("remove file", err)
	}

	if err := removeIfExists(s.path(row.FilePath)); err != nil {
		return storageError("remove file", err)
	}
	return s.deleteRow(ctx, key)
}

func (s *FileStore) liveRow(ctx context.Context, key string) (*models.FileCacheEntry, bool, error) {
	var row models.FileCacheEntry
	err := s.db.WithContext(ctx).Take(&row, keyIs(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CacheLookups.WithLabelValues(kindFile, "miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storageError("get file", err)
	}
	if !row.Live(s.clock()) {
		metrics.CacheLookups.WithLabelValues(kindFile, "expired").Inc()
		return nil, false, nil
	}
	return &row, true, nil
}

func (s *FileStore) deleteRow(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where(keyIs(key)).Delete(&models.FileCacheEntry{}).Error
	return storageError("delete file row", err)
}

func (s *FileStore) decode(key, name string, raw []byte) ([]byte, *DecodeError) {
	codec, err := compress.ForExtension(filepath.Ext(name))
	if err != nil {
		return nil, &DecodeError{Kind: kindFile, Key: key, Err: err}
	}
	data, err := codec.Decode(raw)
	if err != nil {
		return nil, &DecodeError{Kind: kindFile, Key: key, Err: err}
	}
	return data, nil
}

// writeFile writes to a temp file and renames it into place so readers never see a partial blob.
func (s *FileStore) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempFilePrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *FileStore) removeOwnedFile(name string) {
	if err := removeIfExists(s.path(name)); err != nil {
		s.log.Warn("failed to remove cache file", zap.String("file", name), zap.Error(err))
	}
}

// path resolves a stored file name inside the cache directory. Only the base name is used so
// a row can never point outside the directory.
func (c *core) path(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
