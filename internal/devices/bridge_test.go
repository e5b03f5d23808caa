package devices

import (
	"testing"

	"github.com/KevinKickass/OpenFleetCore/internal/types"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceList(t *testing.T) {
	out := "List of devices attached\n" +
		"emulator-5554\tdevice\n" +
		"R58M123ABC\toffline\n" +
		"R58M456DEF\tdevice\n" +
		"\n"
	require.Equal(t, []string{"emulator-5554", "R58M456DEF"}, ParseDeviceList(out))
}

func TestParseDeviceListWindowsLineEndings(t *testing.T) {
	out := "List of devices attached\r\nemulator-5554\tdevice\r\n"
	require.Equal(t, []string{"emulator-5554"}, ParseDeviceList(out))
}

func TestParseDeviceListEmpty(t *testing.T) {
	require.Empty(t, ParseDeviceList("List of devices attached\n\n"))
	require.Empty(t, ParseDeviceList(""))
}

func TestParseBatteryLevel(t *testing.T) {
	out := "Current Battery Service state:\n" +
		"  AC powered: false\n" +
		"  level: 83\n" +
		"  scale: 100\n"
	require.Equal(t, "83%", ParseBatteryLevel(out, "dev-1"))
}

func TestParseBatteryLevelDeviceGone(t *testing.T) {
	out := "error: device 'dev-1' not found"
	require.Equal(t, types.BatteryUnknown, ParseBatteryLevel(out, "dev-1"))
}

func TestParseBatteryLevelUnreadable(t *testing.T) {
	require.Equal(t, types.BatteryUnknown, ParseBatteryLevel("garbage output", "dev-1"))
	require.Equal(t, types.BatteryUnknown, ParseBatteryLevel("level:", "dev-1"))
}
