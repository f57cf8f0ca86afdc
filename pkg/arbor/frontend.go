package arbor

import (
	"errors"

	"github.com/dd0wney/cluso-arbor/pkg/datafile"
	"github.com/dd0wney/cluso-arbor/pkg/fields"
	"github.com/dd0wney/cluso-arbor/pkg/logging"
)

// Frontend plants the trees of one catalog format. A Frontend value serves a
// single load; Detect returns a fresh one.
type Frontend interface {
	Name() string
	// Valid is a cheap, side-effect free check of the path.
	Valid(path string) bool
	// Load parses the header: field schema, parameters and data files.
	Load(a *Arbor) error
	// Plant returns the roots in I/O order.
	Plant(a *Arbor) ([]*Node, error)
	Parser() FieldParser
}

// FieldParser turns the ranges of nodes within one open data file into
// field arrays, one map per node. In root-only mode each array holds just
// the node's first record.
type FieldParser interface {
	Parse(df datafile.Handle, nodes []*Node, entries []fields.Entry, rootOnly bool) ([]map[string]fields.Array, error)
}

// rootFieldReader is implemented by formats that store root values apart
// from the trees.
type rootFieldReader interface {
	ReadRoots(a *Arbor, nodes []*Node, entries []fields.Entry) ([]map[string]fields.Array, error)
}

// frontends lists the formats in detection order.
var frontends = []func() Frontend{
	func() Frontend { return &nativeFrontend{} },
	func() Frontend { return &ctreesBinaryFrontend{} },
	func() Frontend { return &locationsFrontend{} },
	func() Frontend { return &ctreesFrontend{} },
}

// Detect returns a frontend for the first format whose predicate accepts path.
func Detect(path string, logger logging.Logger) (Frontend, error) {
	logger = logging.OrDefault(logger)
	for _, newFrontend := range frontends {
		fe := newFrontend()
		if fe.Valid(path) {
			logger.Debug("format detected", logging.Format(fe.Name()), logging.Path(path))
			return fe, nil
		}
	}
	return nil, NewError("detect").Path(path).Cause(ErrUnknownFormat).Err()
}

// validity adapts a check returning ErrFormatMismatch into a predicate.
func validity(check func(string) error, path string) bool {
	err := check(path)
	if err != nil && !errors.Is(err, ErrFormatMismatch) {
		logging.DefaultLogger().Debug("format check failed", logging.Path(path), logging.Error(err))
	}
	return err == nil
}

type alias struct {
	name  string
	field string
	units string
}

const (
	positionUnits = "unitary"
	radiusUnits   = "kpc"
	velocityUnits = "km/s"
)

// ctreesAliases are the generic names for consistent-trees columns.
var ctreesAliases = []alias{
	{"uid", "id", ""},
	{"desc_uid", "desc_id", ""},
	{"scale_factor", "scale", ""},
	{"mass", "Mvir", "Msun"},
	{"virial_mass", "Mvir", "Msun"},
	{"virial_radius", "Rvir", radiusUnits},
	{"scale_radius", "rs", radiusUnits},
	{"velocity_dispersion", "vrms", velocityUnits},
	{"position_x", "x", positionUnits},
	{"position_y", "y", positionUnits},
	{"position_z", "z", positionUnits},
	{"velocity_x", "vx", velocityUnits},
	{"velocity_y", "vy", velocityUnits},
	{"velocity_z", "vz", velocityUnits},
	{"angular_momentum_x", "Jx", ""},
	{"angular_momentum_y", "Jy", ""},
	{"angular_momentum_z", "Jz", ""},
	{"spin_parameter", "Spin", ""},
}
