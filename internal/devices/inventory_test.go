package devices

import (
	"testing"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUpsertNeverDuplicates(t *testing.T) {
	inv := NewInventory(map[string]string{"dev-1": "Rack A"}, zap.NewNop())

	inv.Upsert("dev-1", "", "", nil)
	inv.Upsert("dev-1", "", "81%", nil)

	devs := inv.ListKnown()
	require.Len(t, devs, 1)
	require.Equal(t, "Rack A", devs[0].Name, "label comes from the configured table")
	require.Equal(t, "81%", devs[0].Battery)
}

func TestUpsertFallsBackToIDLabel(t *testing.T) {
	inv := NewInventory(nil, zap.NewNop())
	d := inv.Upsert("emulator-5554", "", "", nil)
	require.Equal(t, "emulator-5554", d.Name)
}

func TestGetUnknownDevice(t *testing.T) {
	inv := NewInventory(nil, zap.NewNop())
	_, err := inv.Get("ghost")
	require.ErrorIs(t, err, types.ErrDeviceNotFound)
}

func TestBindUnbind(t *testing.T) {
	inv := NewInventory(nil, zap.NewNop())
	inv.Upsert("dev-1", "", "", nil)

	require.NoError(t, inv.Bind("dev-1", "alice", "config.yml"))
	d, err := inv.Get("dev-1")
	require.NoError(t, err)
	require.NotNil(t, d.Process)
	require.Equal(t, "alice", d.Process.Account)

	require.NoError(t, inv.Unbind("dev-1"))
	d, _ = inv.Get("dev-1")
	require.Nil(t, d.Process)

	require.ErrorIs(t, inv.Bind("ghost", "alice", ""), types.ErrDeviceNotFound)
	require.ErrorIs(t, inv.Unbind("ghost"), types.ErrDeviceNotFound)
}

func TestIsFreeConsultsPool(t *testing.T) {
	inv := NewInventory(nil, zap.NewNop())
	inv.Upsert("dev-1", "", "", nil)

	// Without a checker every device counts as free.
	require.True(t, inv.IsFree("dev-1"))

	busy := map[string]bool{"dev-1": true}
	inv.SetActiveChecker(func(id string) bool { return busy[id] })
	require.False(t, inv.IsFree("dev-1"))
	require.True(t, inv.IsFree("dev-2"))
}

func TestRebuildCarriesStateForSurvivors(t *testing.T) {
	inv := NewInventory(map[string]string{"dev-1": "Rack A"}, zap.NewNop())
	inv.Upsert("dev-1", "", "77%", nil)
	inv.Upsert("dev-2", "", "50%", nil)
	require.NoError(t, inv.Bind("dev-1", "alice", "config.yml"))

	inv.Rebuild([]types.Device{{ID: "dev-1"}, {ID: "dev-3"}})

	devs := inv.ListKnown()
	require.Len(t, devs, 2)

	d1, err := inv.Get("dev-1")
	require.NoError(t, err)
	require.Equal(t, "77%", d1.Battery)
	require.Equal(t, "Rack A", d1.Name)
	require.NotNil(t, d1.Process)

	_, err = inv.Get("dev-2")
	require.ErrorIs(t, err, types.ErrDeviceNotFound, "unplugged devices drop out on rebuild")

	d3, err := inv.Get("dev-3")
	require.NoError(t, err)
	require.Empty(t, d3.Battery)
}

func TestSetBatteryIgnoresUnknownDevice(t *testing.T) {
	inv := NewInventory(nil, zap.NewNop())
	inv.SetBattery("ghost", "50%")
	require.Empty(t, inv.ListKnown())
}
