package inmemory

import (
	"testing"

	"github.com/pinterest/pinball/pkg/storage"
	"github.com/pinterest/pinball/pkg/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.RunAll(t, func(t *testing.T) storage.Store {
		return NewStore()
	})
}
