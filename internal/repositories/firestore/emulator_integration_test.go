//go:build integration

package firestore

import (
	"testing"

	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
	"github.com/doxvl/legalization-api/internal/platform/firestore/firestoretest"
)

func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	return firestoretest.NewProvider(t, projectID)
}
