package arbor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

const ctreesMarker = "Consistent Trees"

// ctreesHeader is the parsed comment header of a consistent-trees catalog.
type ctreesHeader struct {
	entries   []fields.Entry
	params    Parameters
	hasParams bool
	hasMarker bool
	// ntrees is the tree count line, -1 when not read.
	ntrees int
	// end is the byte offset just past the header.
	end int64
}

// readCtreesHeader reads the comment header of a text catalog. With
// countLine the first line after the comments is the tree count and is
// included in the header.
func readCtreesHeader(path string, countLine bool, defaultDType fields.DType) (*ctreesHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var lines []string
	var offset int64
	ntrees := -1
	for {
		line, err := r.ReadString('\n')
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if strings.HasPrefix(line, "#") {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
			offset += int64(len(line))
			if err != nil {
				break
			}
			continue
		}
		if countLine {
			n, perr := strconv.Atoi(strings.TrimSpace(line))
			if perr != nil {
				return nil, fmt.Errorf("%s: tree count line %q: %w", path, strings.TrimSpace(line), perr)
			}
			ntrees = n
			offset += int64(len(line))
		}
		break
	}

	h, err := parseCtreesHeader(lines, defaultDType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if countLine && ntrees < 0 {
		ntrees = 0
	}
	h.ntrees = ntrees
	h.end = offset
	return h, nil
}

// parseCtreesHeader parses header lines, each starting with '#'. The first
// line lists the columns as name(index).
func parseCtreesHeader(lines []string, defaultDType fields.DType) (*ctreesHeader, error) {
	h := &ctreesHeader{ntrees: -1}
	if len(lines) == 0 {
		return h, nil
	}

	columns, err := parseColumns(lines[0], defaultDType)
	if err != nil {
		return nil, err
	}
	byLower := make(map[string]int, len(columns))
	for i, e := range columns {
		byLower[strings.ToLower(e.Name)] = i
	}

	units := make(map[string]string)
	for _, raw := range lines[1:] {
		line := strings.TrimSpace(strings.TrimPrefix(raw, "#"))
		switch {
		case strings.Contains(line, ctreesMarker):
			h.hasMarker = true
		case strings.HasPrefix(line, "Omega_M"):
			if err := parseCosmology(line, &h.params); err != nil {
				return nil, err
			}
			h.hasParams = true
		case strings.HasPrefix(line, "Full box size"):
			if err := parseBoxSize(line, &h.params); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "Units:"):
			if kind, u, ok := parseUnitsLine(strings.TrimPrefix(line, "Units:")); ok {
				units[kind] = u
			}
		default:
			name, desc, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			if i, ok := byLower[strings.ToLower(strings.TrimSpace(name))]; ok {
				columns[i].Description = strings.TrimSpace(desc)
			}
		}
	}

	for i := range columns {
		if u, ok := units[unitKind(columns[i].Name)]; ok {
			columns[i].Units = u
		}
	}
	h.entries = columns
	return h, nil
}

func parseColumns(line string, defaultDType fields.DType) ([]fields.Entry, error) {
	var out []fields.Entry
	for _, tok := range strings.Fields(strings.TrimPrefix(line, "#")) {
		open := strings.LastIndex(tok, "(")
		if open <= 0 || !strings.HasSuffix(tok, ")") {
			return nil, fmt.Errorf("column descriptor %q is not name(index)", tok)
		}
		col, err := strconv.Atoi(tok[open+1 : len(tok)-1])
		if err != nil {
			return nil, fmt.Errorf("column descriptor %q: %w", tok, err)
		}
		name := tok[:open]
		dt := defaultDType
		if isIDColumn(name) {
			dt = fields.Int64
		}
		out = append(out, fields.Entry{Name: name, Column: col, DType: dt})
	}
	if len(out) == 0 {
		return nil, errors.New("no columns in header")
	}
	return out, nil
}

// isIDColumn reports whether a column holds integers.
func isIDColumn(name string) bool {
	lower := strings.ToLower(strings.TrimRight(name, "?"))
	if strings.HasSuffix(lower, "id") {
		return true
	}
	switch lower {
	case "num_prog", "phantom", "mmp", "snap_num", "snap_idx":
		return true
	}
	return false
}

// parseCosmology parses "Omega_M = a; Omega_L = b; h0 = c".
func parseCosmology(line string, p *Parameters) error {
	for _, part := range strings.Split(line, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return fmt.Errorf("cosmology %q: %w", strings.TrimSpace(part), err)
		}
		switch strings.TrimSpace(key) {
		case "Omega_M":
			p.OmegaMatter = v
		case "Omega_L":
			p.OmegaLambda = v
		case "h0":
			p.HubbleConstant = v
		}
	}
	return nil
}

// parseBoxSize parses "Full box size = X unit".
func parseBoxSize(line string, p *Parameters) error {
	_, val, ok := strings.Cut(line, "=")
	if !ok {
		return fmt.Errorf("box size line %q has no value", line)
	}
	parts := strings.Fields(val)
	if len(parts) == 0 {
		return fmt.Errorf("box size line %q has no value", line)
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return fmt.Errorf("box size %q: %w", parts[0], err)
	}
	p.BoxSize = v
	p.BoxSizeUnits = strings.Join(parts[1:], "")
	return nil
}

var trailingNote = regexp.MustCompile(`\s*\([a-z ,]+\)\s*$`)

// parseUnitsLine parses "Masses in Msun / h" into ("mass", "Msun/h").
func parseUnitsLine(s string) (kind, units string, ok bool) {
	what, u, found := strings.Cut(strings.TrimSpace(s), " in ")
	if !found {
		return "", "", false
	}
	what = strings.ToLower(what)
	switch {
	case strings.HasPrefix(what, "masses"):
		kind = "mass"
	case strings.HasPrefix(what, "positions"):
		kind = "position"
	case strings.HasPrefix(what, "velocities"):
		kind = "velocity"
	case strings.HasPrefix(what, "angular momenta"):
		kind = "angmom"
	case strings.Contains(what, "radii"), strings.Contains(what, "lengths"):
		kind = "length"
	default:
		return "", "", false
	}
	u = trailingNote.ReplaceAllString(u, "")
	return kind, strings.ReplaceAll(u, " ", ""), true
}

var massColumn = regexp.MustCompile(`^((sam_)?mvir(_all)?|m\d+[bc](_all)?|macc|mpeak|m_pe_\w+)$`)

func unitKind(name string) string {
	lower := strings.ToLower(name)
	switch {
	case massColumn.MatchString(lower):
		return "mass"
	case lower == "x", lower == "y", lower == "z":
		return "position"
	case lower == "vx", lower == "vy", lower == "vz",
		lower == "vrms", lower == "vmax", lower == "vacc", lower == "vpeak":
		return "velocity"
	case lower == "rvir", lower == "rs", lower == "rs_klypin":
		return "length"
	case lower == "jx", lower == "jy", lower == "jz":
		return "angmom"
	}
	return ""
}

// unitRegistry builds the symbol table for the header's constants.
func (h *ctreesHeader) unitRegistry() UnitRegistry {
	u := make(UnitRegistry)
	if h.params.HubbleConstant != 0 {
		u["h"] = strconv.FormatFloat(h.params.HubbleConstant, 'g', -1, 64)
	}
	if h.params.BoxSize != 0 {
		u["unitary"] = strconv.FormatFloat(h.params.BoxSize, 'g', -1, 64) + " " + h.params.BoxSizeUnits
	}
	return u
}

// hasCtreesMarker scans the comment header of path for the format marker.
func hasCtreesMarker(path string, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if !strings.HasPrefix(line, "#") {
			return ErrFormatMismatch
		}
		if strings.Contains(line, want) {
			return nil
		}
		if err != nil {
			return ErrFormatMismatch
		}
	}
}
