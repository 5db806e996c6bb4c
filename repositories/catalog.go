//go:generate go run go.uber.org/mock/mockgen -source=catalog.go -destination=../mocks/mock_catalog.go -package=mocks
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"upload-lab/domain"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// StoredUpload is the catalog entry written once a file survived the whole
// pipeline. The content hash is the primary key: two uploads with the same
// bytes are the same entry.
type StoredUpload struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	Hash        string    `json:"hash"`
	StoredBy    string    `json:"storedBy"`
	StoredAt    time.Time `json:"storedAt"`
}

type ICatalogRepository interface {
	Store(upload StoredUpload) error
	ExistsByHash(hash string) (bool, error)
	GetByHash(hash string) (StoredUpload, error)
	Search(ctx context.Context, term string, limit int) ([]StoredUpload, error)
}

// CatalogRepository persists entries in BadgerDB and indexes display names
// in bluge so operators can search what landed.
type CatalogRepository struct {
	db    *badger.DB
	index *bluge.Writer
	log   *slog.Logger
}

func NewCatalogRepository(db *badger.DB, index *bluge.Writer, log *slog.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, index: index, log: log}
}

func catalogKey(hash string) []byte {
	return []byte(fmt.Sprintf("upload:sha256:%s", hash))
}

// Store writes the entry and indexes it. The Badger write is the source of
// truth; a failed index update is logged but not fatal, search lags behind.
func (c *CatalogRepository) Store(upload StoredUpload) error {
	data, err := json.Marshal(upload)
	if err != nil {
		return err
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(catalogKey(upload.Hash), data)
	})
	if err != nil {
		return fmt.Errorf("storing catalog entry: %w", err)
	}

	doc := bluge.NewDocument(upload.Hash).
		AddField(bluge.NewTextField("name", upload.Name).StoreValue()).
		AddField(bluge.NewKeywordField("hash", upload.Hash).StoreValue())
	if err := c.index.Update(doc.ID(), doc); err != nil {
		c.log.Error("Failed to index catalog entry", "hash", upload.Hash, "err", err)
	}
	return nil
}

// ExistsByHash is the default remote-duplicate predicate.
func (c *CatalogRepository) ExistsByHash(hash string) (bool, error) {
	var found bool
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(catalogKey(hash))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (c *CatalogRepository) GetByHash(hash string) (StoredUpload, error) {
	var upload StoredUpload
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(catalogKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &upload)
		})
	})
	return upload, err
}

// Search matches the term against indexed display names and resolves each
// hit back to its full Badger entry.
func (c *CatalogRepository) Search(ctx context.Context, term string, limit int) ([]StoredUpload, error) {
	reader, err := c.index.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening index reader: %w", err)
	}
	defer reader.Close()

	query := bluge.NewMatchQuery(term).SetField("name")
	request := bluge.NewTopNSearch(limit, query)

	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}

	var uploads []StoredUpload
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, err
		}
		if match == nil {
			break
		}

		var hash string
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == "hash" {
				hash = string(value)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if hash == "" {
			continue
		}

		upload, err := c.GetByHash(hash)
		if err != nil {
			// Index ahead of the store, entry gone: skip the hit.
			c.log.Debug("Search hit without catalog entry", "hash", hash)
			continue
		}
		uploads = append(uploads, upload)
	}
	return uploads, nil
}

// CatalogDuplicateChecker adapts the catalog to the coordinator's
// remote-duplicate hook.
type CatalogDuplicateChecker struct {
	catalog ICatalogRepository
}

func NewCatalogDuplicateChecker(catalog ICatalogRepository) *CatalogDuplicateChecker {
	return &CatalogDuplicateChecker{catalog: catalog}
}

func (c *CatalogDuplicateChecker) Exists(_ context.Context, record domain.RecordSnapshot) (bool, error) {
	if record.Hash == "" {
		return false, nil
	}
	return c.catalog.ExistsByHash(record.Hash)
}
