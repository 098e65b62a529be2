package storage_test

import (
	"testing"

	"github.com/capiscio/meta-issuer/internal/storage"
	"github.com/capiscio/meta-issuer/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemoryStore()
	})
}
