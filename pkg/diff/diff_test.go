package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/internal/models"
)

func proc(pid int32, name, exe string) models.ProcessItem {
	return models.ProcessItem{PID: pid, Name: name, Exe: exe}
}

func TestDiffAddedRemoved(t *testing.T) {
	prev := []models.Item{proc(1, "init", "/sbin/init"), proc(2, "sshd", "/usr/sbin/sshd")}
	curr := []models.Item{proc(1, "init", "/sbin/init"), proc(3, "bash", "/bin/bash")}

	res := Diff(prev, curr, zap.NewNop())

	assert.Len(t, res.Added, 1)
	assert.Equal(t, "3", res.Added[0].Key())
	assert.Len(t, res.Removed, 1)
	assert.Equal(t, "2", res.Removed[0].Key())
	assert.Empty(t, res.Changed)
}

func TestDiffAddedRemovedDisjoint(t *testing.T) {
	prev := []models.Item{proc(1, "a", "/a"), proc(2, "b", "/b"), proc(3, "c", "/c")}
	curr := []models.Item{proc(2, "b", "/b"), proc(4, "d", "/d"), proc(5, "e", "/e")}

	res := Diff(prev, curr, zap.NewNop())

	added := make(map[string]bool)
	for _, item := range res.Added {
		assert.False(t, added[item.Key()], "key %s added twice", item.Key())
		added[item.Key()] = true
	}
	for _, item := range res.Removed {
		assert.False(t, added[item.Key()], "key %s in both added and removed", item.Key())
	}
	assert.Len(t, res.Added, 2)
	assert.Len(t, res.Removed, 2)
}

func TestDiffIdenticalSnapshotsEmpty(t *testing.T) {
	items := []models.Item{proc(1, "init", "/sbin/init"), proc(2, "sshd", "/usr/sbin/sshd")}

	res := Diff(items, items, zap.NewNop())

	assert.True(t, res.Empty())
}

func TestDiffNilPreviousYieldsAllAdded(t *testing.T) {
	curr := []models.Item{proc(1, "init", "/sbin/init")}

	res := Diff(nil, curr, zap.NewNop())

	assert.Len(t, res.Added, 1)
	assert.Empty(t, res.Removed)
}

func TestDiffChangedFingerprint(t *testing.T) {
	prev := []models.Item{
		models.PersistencePointItem{KeyPath: "/etc/cron.d/job", ContentHash: "aaa"},
	}
	curr := []models.Item{
		models.PersistencePointItem{KeyPath: "/etc/cron.d/job", ContentHash: "bbb"},
	}

	res := Diff(prev, curr, zap.NewNop())

	assert.Empty(t, res.Added)
	assert.Empty(t, res.Removed)
	assert.Len(t, res.Changed, 1)
	assert.Equal(t, "/etc/cron.d/job", res.Changed[0].Key())
}

func TestIndexDuplicateKeysLaterWins(t *testing.T) {
	items := []models.Item{proc(1, "first", "/first"), proc(1, "second", "/second")}

	idx := Index(items, zap.NewNop())

	assert.Len(t, idx, 1)
	assert.Equal(t, "second", idx["1"].(models.ProcessItem).Name)
}
