package log_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"pkg.world.dev/world-engine/replicate/assert"
	"pkg.world.dev/world-engine/replicate/example/cube"
	"pkg.world.dev/world-engine/replicate/log"
	"pkg.world.dev/world-engine/replicate/replicator"
	"pkg.world.dev/world-engine/replicate/testutils"
	"pkg.world.dev/world-engine/replicate/types"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	var line map[string]any
	assert.NilError(t, json.Unmarshal(buf.Bytes(), &line), buf.String())
	buf.Reset()
	return line
}

func TestDirectoryAndEntityLogs(t *testing.T) {
	c := testutils.NewCluster(t, []replicator.Factory{cube.New})
	p2 := c.Join(2)
	c.Settle()

	authority := c.Authority().Replicator
	e, err := authority.SpawnTemplate(cube.Kind, nil)
	assert.NilError(t, err)
	_, err = authority.SpawnTemplate(cube.Kind, nil)
	assert.NilError(t, err)
	assert.NilError(t, e.SetPropertyOwner("Position", p2.ID))

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	log.Directory(&logger, authority, zerolog.InfoLevel)
	line := decodeLine(t, &buf)
	assert.Equal(t, float64(1), line["peer"])
	assert.Equal(t, float64(1), line["total_templates"])
	assert.Equal(t, float64(2), line["total_entities"])

	log.Entity(&logger, zerolog.InfoLevel, e)
	line = decodeLine(t, &buf)
	assert.Equal(t, e.Ref().String(), line["entity"])
	owners, ok := line["owners"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, float64(2), owners["Position"])
	assert.NotContains(t, owners, "Color")
}

func TestSubLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	log.CreateTraceLogger(&logger, "abc").Info().Msg("traced")
	assert.Equal(t, "abc", decodeLine(t, &buf)["trace_id"])

	log.CreatePeerLogger(&logger, types.PeerID(7)).Info().Msg("peer")
	assert.Equal(t, float64(7), decodeLine(t, &buf)["peer"])
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	assert.IsError(t, log.Setup("loud", false))
	assert.NilError(t, log.Setup("info", false))
}
