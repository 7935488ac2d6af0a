package inmemory

import (
	"testing"

	"github.com/barekit/ragchat/pkg/store"
	"github.com/barekit/ragchat/pkg/store/storetest"
)

func TestInMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
