package docwatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docwatch/internal/emulator"
	"github.com/syntrixbase/docwatch/internal/server"
	"github.com/syntrixbase/docwatch/pkg/model"
)

func startAuthEmulator(t *testing.T) *emulator.Local {
	t.Helper()
	srvCfg := server.DefaultConfig()
	srvCfg.AuthSecret = "s3cret"
	srvCfg.AuthProject = "firestore-test"
	emuCfg := emulator.DefaultConfig()
	emuCfg.KeepAliveInterval = 50 * time.Millisecond
	local := emulator.StartLocal(emuCfg, srvCfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, local.Shutdown(ctx))
	})
	return local
}

func closeConn(t *testing.T, conn *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	assert.NoError(t, conn.Close(ctx))
}

func dialConfig(secret string) Config {
	cfg := DefaultConfig()
	cfg.ProjectID = "firestore-test"
	cfg.Address = emulator.Target
	cfg.AuthSecret = secret
	return cfg
}

func TestDial_Authenticated(t *testing.T) {
	local := startAuthEmulator(t)

	conn, err := Dial(dialConfig("s3cret"), nil, local.DialerOption())
	require.NoError(t, err)
	defer closeConn(t, conn)

	assert.Equal(t, "projects/firestore-test/databases/(default)", conn.Root().Database())
	doc := model.NewDocument(map[string]model.Value{"ok": model.Boolean(true)})
	require.True(t, conn.Upsert(t.Context(), "c/auth", doc, nil))

	seen := make(changes, 4)
	conn.StartWatch("c/auth", seen)
	got, ok := seen.next(t, waitTimeout)
	require.True(t, ok)
	assert.True(t, got.FieldsEqual(doc))
}

func TestDial_WrongSecret(t *testing.T) {
	local := startAuthEmulator(t)

	conn, err := Dial(dialConfig("not-the-secret"), nil, local.DialerOption())
	require.NoError(t, err)
	defer closeConn(t, conn)

	assert.False(t, conn.Upsert(t.Context(), "c/auth", model.NewDocument(nil), nil))

	id := conn.StartWatch("c/auth", make(changes, 1))
	require.NotEqual(t, InvalidID, id)
	waitDone(t, conn, id)
}

func TestDial_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProjectID = ""
	_, err := Dial(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.CAFile = "ca.pem"
	_, err = Dial(cfg, nil)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.TLS = true
	cfg.CAFile = "/does/not/exist.pem"
	_, err = Dial(cfg, nil)
	assert.Error(t, err)
}
