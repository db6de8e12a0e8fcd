package fuse

import (
	"log/slog"

	"github.com/jingkaihe/fusebridge/pkg/clock"
	"github.com/jingkaihe/fusebridge/pkg/logging"
	"github.com/jingkaihe/fusebridge/pkg/wire"
)

// DefaultReaddirBufferSize is the READDIR size used when the caller does not
// give a capacity.
const DefaultReaddirBufferSize = 4096

// Options configures a Connection and the FileSystem mounted on it.
type Options struct {
	// DefaultPermissions makes the engine check mode bits itself instead of
	// sending ACCESS. A POSIX_ACL INIT reply turns it on regardless.
	DefaultPermissions bool
	// ReaddirBufferSize is the READDIR size when the caller passes zero.
	ReaddirBufferSize int
	Clock             clock.Clock
	Logger            *slog.Logger
	// Emitter receives connection events. When nil, events go to Logger at
	// debug level.
	Emitter *logging.Emitter
}

func (o Options) withDefaults() Options {
	if o.ReaddirBufferSize <= 0 {
		o.ReaddirBufferSize = DefaultReaddirBufferSize
	}
	if o.Clock == nil {
		o.Clock = clock.Monotonic()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Emitter == nil {
		o.Emitter = logging.NewEmitter(logging.EmitterConfig{Source: "fuse"}, logging.NewSlogSink(o.Logger, slog.LevelDebug))
	}
	return o
}

// Configuration is the outcome of INIT. It is set once per connection.
type Configuration struct {
	Major        uint32
	Minor        uint32
	Flags        wire.InitFlags
	MaxReadahead uint32
	MaxWrite     uint32
	TimeGran     uint32
	MaxPages     uint16
}

// newConfiguration keeps the supported subset of the reply's flags and
// returns the dropped bits separately.
func newConfiguration(out wire.InitOut) (Configuration, wire.InitFlags) {
	raw := wire.InitFlagsFrom(out.Flags, out.Flags2)
	return Configuration{
		Major:        out.Major,
		Minor:        out.Minor,
		Flags:        raw & wire.SupportedInitFlags,
		MaxReadahead: out.MaxReadahead,
		MaxWrite:     out.MaxWrite,
		TimeGran:     out.TimeGran,
		MaxPages:     out.MaxPages,
	}, raw &^ wire.SupportedInitFlags
}

func initRequest() wire.InitIn {
	lo, hi := wire.SupportedInitFlags.Split()
	return wire.InitIn{
		Major:  wire.KernelVersion,
		Minor:  wire.KernelMinorVersion,
		Flags:  lo,
		Flags2: hi,
	}
}
