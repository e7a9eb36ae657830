// Formetric - Coating Formulation Performance Prediction and Optimization
// Copyright 2026 Formetric Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/formetric/formetric

// Package store persists training samples, trained model bundles, and
// the material catalog in BadgerDB. Values are JSON; keys are
// prefix-namespaced so each record family can be scanned independently.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/formetric/formetric/internal/catalog"
	"github.com/formetric/formetric/internal/forecast"
	"github.com/formetric/formetric/internal/logging"
	"github.com/formetric/formetric/internal/recipe"
)

// Key prefixes for BadgerDB storage.
const (
	sampleKeyPrefix   = "sample:"
	modelKeyPrefix    = "model:"
	materialKeyPrefix = "material:"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the BadgerDB-backed persistence layer.
type Store struct {
	db     *badger.DB
	cache  *MaterialCache
	logger zerolog.Logger
}

// Options configures the store.
type Options struct {
	// Path is the database directory; empty opens an in-memory
	// database, used by tests and ephemeral deployments.
	Path string

	// CatalogCacheSize and CatalogCacheTTL size the material read
	// cache; zero values take the cache defaults.
	CatalogCacheSize int
	CatalogCacheTTL  time.Duration
}

// Open opens the database at path with default cache sizing.
func Open(path string) (*Store, error) {
	return OpenWithOptions(Options{Path: path})
}

// OpenWithOptions opens the database described by opts.
func OpenWithOptions(opts Options) (*Store, error) {
	logger := logging.Logger().With().Str("component", "store").Logger()

	badgerOpts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.Path == "" {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", opts.Path, err)
	}

	logger.Info().Str("path", opts.Path).Bool("in_memory", opts.Path == "").Msg("Store opened")
	return &Store{
		db:     db,
		cache:  NewMaterialCache(opts.CatalogCacheSize, opts.CatalogCacheTTL),
		logger: logger,
	}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sampleKey(projectID, id string) []byte {
	return []byte(sampleKeyPrefix + projectID + ":" + id)
}

// AddSample persists a training sample, assigning an ID and timestamp
// when missing. The stored sample is returned.
func (s *Store) AddSample(_ context.Context, sample recipe.TrainingSample) (recipe.TrainingSample, error) {
	if sample.ProjectID == "" {
		return sample, errors.New("store: sample has no project id")
	}
	if len(sample.Features) != recipe.FeatureCount {
		return sample, fmt.Errorf("store: sample has %d features, want %d", len(sample.Features), recipe.FeatureCount)
	}
	if sample.ID == "" {
		sample.ID = uuid.NewString()
	}
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return sample, fmt.Errorf("store: marshal sample: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sampleKey(sample.ProjectID, sample.ID), data)
	})
	if err != nil {
		return sample, fmt.Errorf("store: set sample: %w", err)
	}
	return sample, nil
}

// SamplesByProject returns one project's samples in key order.
func (s *Store) SamplesByProject(_ context.Context, projectID string) ([]recipe.TrainingSample, error) {
	return s.scanSamples([]byte(sampleKeyPrefix + projectID + ":"))
}

// AllSamples returns every sample across projects.
func (s *Store) AllSamples(_ context.Context) ([]recipe.TrainingSample, error) {
	return s.scanSamples([]byte(sampleKeyPrefix))
}

func (s *Store) scanSamples(prefix []byte) ([]recipe.TrainingSample, error) {
	var samples []recipe.TrainingSample
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var sample recipe.TrainingSample
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable sample")
				continue
			}
			samples = append(samples, sample)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan samples: %w", err)
	}
	return samples, nil
}

// CountSamples returns the number of samples for one project, or for
// all projects when projectID is empty.
func (s *Store) CountSamples(_ context.Context, projectID string) (int, error) {
	prefix := []byte(sampleKeyPrefix)
	if projectID != "" {
		prefix = []byte(sampleKeyPrefix + projectID + ":")
	}
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// DeleteSample removes one sample.
func (s *Store) DeleteSample(_ context.Context, projectID, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(sampleKey(projectID, id))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("store: delete sample: %w", err)
		}
		return nil
	})
}

// SaveModel persists a trained model bundle for a scope.
func (s *Store) SaveModel(_ context.Context, scope string, bundle *forecast.Bundle) error {
	if bundle == nil {
		return errors.New("store: nil bundle")
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("store: marshal bundle: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(modelKeyPrefix+scope), data)
	})
	if err != nil {
		return fmt.Errorf("store: set bundle: %w", err)
	}
	return nil
}

// LoadModel retrieves a scope's model bundle, or ErrNotFound.
func (s *Store) LoadModel(_ context.Context, scope string) (*forecast.Bundle, error) {
	var bundle forecast.Bundle
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(modelKeyPrefix + scope))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: get bundle: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &bundle)
		})
	})
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// ModelScopes lists the scopes with persisted models.
func (s *Store) ModelScopes(_ context.Context) ([]string, error) {
	var scopes []string
	prefix := []byte(modelKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			scopes = append(scopes, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return scopes, err
}

// PutMaterials upserts catalog records and drops their cached copies,
// so the next Material read sees the new record.
func (s *Store) PutMaterials(_ context.Context, materials []catalog.Material) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return putMaterialsTxn(txn, materials)
	})
	if err != nil {
		return err
	}
	for _, m := range materials {
		s.cache.Invalidate(m.Code)
	}
	return nil
}

// ReplaceMaterials swaps the entire persisted catalog in one
// transaction: stale records are deleted, the new list written, and the
// read cache cleared.
func (s *Store) ReplaceMaterials(_ context.Context, materials []catalog.Material) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := []byte(materialKeyPrefix)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("store: delete material %s: %w", key, err)
			}
		}
		return putMaterialsTxn(txn, materials)
	})
	if err != nil {
		return err
	}
	s.cache.Clear()
	return nil
}

func putMaterialsTxn(txn *badger.Txn, materials []catalog.Material) error {
	for _, m := range materials {
		if m.Code == "" {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("store: marshal material %s: %w", m.Code, err)
		}
		if err := txn.Set([]byte(materialKeyPrefix+m.Code), data); err != nil {
			return fmt.Errorf("store: set material %s: %w", m.Code, err)
		}
	}
	return nil
}

// Material returns one catalog record by code, served from the LRU
// cache when possible.
func (s *Store) Material(_ context.Context, code string) (catalog.Material, error) {
	if m, ok := s.cache.Get(code); ok {
		return m, nil
	}

	var m catalog.Material
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(materialKeyPrefix + code))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: get material: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return catalog.Material{}, err
	}
	s.cache.Add(m)
	return m, nil
}

// Materials loads every catalog record.
func (s *Store) Materials(_ context.Context) ([]catalog.Material, error) {
	var materials []catalog.Material
	prefix := []byte(materialKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var m catalog.Material
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable material")
				continue
			}
			materials = append(materials, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan materials: %w", err)
	}
	return materials, nil
}
