package store

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	logger, _ := logtest.NewNullLogger()
	return logger.WithField("test", true)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testLog(), filepath.Join(t.TempDir(), "endpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_TouchAndEndpoints(t *testing.T) {
	s := openTestStore(t)

	assert.Empty(t, s.Endpoints())

	s.Touch("10.0.0.5")
	s.Touch("10.0.0.6")
	s.Touch("10.0.0.5") // refresh, not duplicate

	endpoints := s.Endpoints()
	require.Len(t, endpoints, 2)
	assert.ElementsMatch(t, []string{"10.0.0.5", "10.0.0.6"}, endpoints)
}

func TestStore_TouchIgnoresEmptyAddress(t *testing.T) {
	s := openTestStore(t)
	s.Touch("")
	assert.Empty(t, s.Endpoints())
}

func TestStore_PrunesStaleEndpoints(t *testing.T) {
	s := openTestStore(t)
	s.Touch("10.0.0.5")

	// Age the row past the retention window.
	_, err := s.db.Exec(`UPDATE known_endpoints SET last_seen = last_seen - ?`, int64(staleAfter.Seconds())+3600)
	require.NoError(t, err)

	assert.Empty(t, s.Endpoints())
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoints.db")

	s, err := Open(testLog(), path)
	require.NoError(t, err)
	s.Touch("10.0.0.7")
	require.NoError(t, s.Close())

	reopened, err := Open(testLog(), path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"10.0.0.7"}, reopened.Endpoints())
}

func TestStore_OpenRequiresPath(t *testing.T) {
	_, err := Open(testLog(), "")
	assert.Error(t, err)
}
