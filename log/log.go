package log

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"pkg.world.dev/world-engine/replicate/entity"
	"pkg.world.dev/world-engine/replicate/types"
)

type Loggable interface {
	LocalPeer() types.PeerID
	TemplateKinds() []string
	Entities(kind string) []*entity.Entity
}

func loadOwnersIntoEvent(zeroLoggerEvent *zerolog.Event, e *entity.Entity) *zerolog.Event {
	owners := e.PropertyOwners()
	names := make([]string, 0, len(owners))
	for name := range owners {
		names = append(names, name)
	}
	sort.Strings(names)
	dictLogger := zerolog.Dict()
	for _, name := range names {
		dictLogger = dictLogger.Int32(name, int32(owners[name]))
	}
	return zeroLoggerEvent.Dict("owners", dictLogger)
}

func loadDirectoryIntoEvent(zeroLoggerEvent *zerolog.Event, target Loggable) *zerolog.Event {
	kinds := target.TemplateKinds()
	total := 0
	arrayLogger := zerolog.Arr()
	for _, kind := range kinds {
		count := len(target.Entities(kind))
		total += count
		arrayLogger = arrayLogger.Dict(zerolog.Dict().Str("kind", kind).Int("live", count))
	}
	zeroLoggerEvent.Int32("peer", int32(target.LocalPeer()))
	zeroLoggerEvent.Int("total_templates", len(kinds))
	zeroLoggerEvent.Int("total_entities", total)
	return zeroLoggerEvent.Array("templates", arrayLogger)
}

// Entity logs an entity's reference and the peers owning its properties. Properties missing from "owners" belong to
// the authority.
func Entity(logger *zerolog.Logger, level zerolog.Level, e *entity.Entity) {
	zeroLoggerEvent := logger.WithLevel(level)
	zeroLoggerEvent.Str("entity", e.Ref().String())
	loadOwnersIntoEvent(zeroLoggerEvent, e).Send()
}

// Directory logs the registered templates and how many entities of each are live.
func Directory(logger *zerolog.Logger, target Loggable, level zerolog.Level) {
	zeroLoggerEvent := logger.WithLevel(level)
	loadDirectoryIntoEvent(zeroLoggerEvent, target).Send()
}

// CreateTraceLogger Creates a trace Logger. Using a single id you can use this Logger to follow and log a data path.
func CreateTraceLogger(logger *zerolog.Logger, traceID string) *zerolog.Logger {
	newLogger := logger.With().Str("trace_id", traceID).Logger()
	return &newLogger
}

// CreatePeerLogger creates a Sub Logger with the entry {"peer" : peer}.
func CreatePeerLogger(logger *zerolog.Logger, peer types.PeerID) *zerolog.Logger {
	newLogger := logger.With().Int32("peer", int32(peer)).Logger()
	return &newLogger
}

// Setup configures the process-wide logger.
func Setup(level string, pretty bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return eris.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}
