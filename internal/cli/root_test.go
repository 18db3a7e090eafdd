package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/class-booking/internal/model"
	"github.com/Shivanand-hulikatti/class-booking/internal/service"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "class-booking", cmd.Use)
	assert.Contains(t, cmd.Long, "overbooking")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "promote", "reconcile"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	reconcile, _, err := cmd.Find([]string{"reconcile"})
	require.NoError(t, err)
	assert.NotNil(t, reconcile.Flags().Lookup("repair"))
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--format", "xml", "--env-file", "", "reconcile", "s1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestReconcileUnknownSessionInMemory(t *testing.T) {
	t.Setenv("CLASSBOOKING_STORE", "memory")
	t.Setenv("CLASSBOOKING_REDIS_ADDR", "")
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--env-file", "", "reconcile", "s1"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEnvFileIsLoaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CLASSBOOKING_MAX_ACTIVE_BOOKINGS=7\n"), 0o600))
	t.Setenv("CLASSBOOKING_MAX_ACTIVE_BOOKINGS", "")
	require.NoError(t, os.Unsetenv("CLASSBOOKING_MAX_ACTIVE_BOOKINGS"))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "7", os.Getenv("CLASSBOOKING_MAX_ACTIVE_BOOKINGS"))

	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestWriteReport(t *testing.T) {
	report := service.ReconcileReport{
		SessionID:         "s1",
		ConfirmedCount:    3,
		ConfirmedBookings: 2,
		Findings:          []service.Finding{{Rule: "confirmed_count", Detail: "counter is 3, 2 bookings are CONFIRMED"}},
		Repaired:          true,
	}

	var text bytes.Buffer
	require.NoError(t, writeReport(&text, "text", report))
	assert.Contains(t, text.String(), "1 finding(s)")
	assert.Contains(t, text.String(), "[confirmed_count]")
	assert.Contains(t, text.String(), "repaired:           yes")

	var js bytes.Buffer
	require.NoError(t, writeReport(&js, "json", report))
	var decoded service.ReconcileReport
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, report.Findings, decoded.Findings)
}

func TestWritePromotion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePromotion(&buf, "text", nil))
	assert.Equal(t, "nothing promoted\n", buf.String())

	buf.Reset()
	require.NoError(t, writePromotion(&buf, "text", &model.Booking{ID: "b1", UserID: "u1"}))
	assert.Equal(t, "promoted booking b1 (user u1)\n", buf.String())
}
