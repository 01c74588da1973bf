package sensors

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/ownetctl/internal/ownet"
	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoSuchSensor = errors.New("sensors: no such sensor")
	ErrNotSensor    = errors.New("sensors: entry does not appear to be a sensor")
)

var (
	pageEntry   = regexp.MustCompile(`^.+\.[0-9]+$`)
	deviceEntry = regexp.MustCompile(`^/[0-9A-Fa-f]{2}\.[0-9A-Fa-f]+/$`)
)

// Source is the subset of a proxy the builder needs.
type Source interface {
	Present(ctx context.Context, path string) (bool, error)
	Dir(ctx context.Context, path string, opts ownet.DirOptions) ([]string, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// Accessor reads one device property and casts it.
type Accessor struct {
	Path  string
	Name  string
	Props Properties
	Kind  Kind

	src Source
}

func (a *Accessor) Read(ctx context.Context) (any, error) {
	raw, err := a.src.Read(ctx, a.Path)
	if err != nil {
		return nil, err
	}
	v, err := Cast(a.Kind, raw)
	if err != nil {
		return nil, fmt.Errorf("sensors: %s as %s: %w", a.Path, a.Kind, err)
	}
	return v, nil
}

func (a *Accessor) Float(ctx context.Context) (float64, error) {
	v, err := a.Read(ctx)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("sensors: %s is %s, not numeric", a.Path, a.Kind)
	}
}

// Sensor is a device, or a property subdirectory of one. Fixed values are
// read once when the sensor is built; everything else goes through Fields.
type Sensor struct {
	Path   string
	Fields map[string]*Accessor
	Fixed  map[string]any
	Dirs   map[string]*Sensor
}

// Type returns the device type when it was read at build time.
func (s *Sensor) Type() string {
	v, _ := s.Fixed["type"].(string)
	return v
}

func (s *Sensor) Address() string {
	v, _ := s.Fixed["address"].(string)
	return v
}

func (s *Sensor) String() string {
	return fmt.Sprintf("%s at %s", s.Type(), s.Address())
}

// Names lists every field, fixed value and subdirectory name in order.
func (s *Sensor) Names() []string {
	out := make([]string, 0, len(s.Fields)+len(s.Fixed)+len(s.Dirs))
	for k := range s.Fields {
		out = append(out, k)
	}
	for k := range s.Fixed {
		out = append(out, k)
	}
	for k := range s.Dirs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Root builds sensors for one server. Family structures and built sensors
// are cached for the lifetime of the Root.
type Root struct {
	src Source

	mu        sync.Mutex
	structure map[string]map[string]Properties
	sensors   map[string]*Sensor
}

func NewRoot(src Source) *Root {
	return &Root{
		src:       src,
		structure: make(map[string]map[string]Properties),
		sensors:   make(map[string]*Sensor),
	}
}

// Scan lists the device directories at the top of the tree.
func (r *Root) Scan(ctx context.Context) ([]string, error) {
	entries, err := r.src.Dir(ctx, "/", ownet.DirOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if deviceEntry.MatchString(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Sensor returns the sensor at path, building it on first use.
func (r *Root) Sensor(ctx context.Context, path string) (*Sensor, error) {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	ok, err := r.src.Present(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchSensor, path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sensors[path]; ok {
		return s, nil
	}

	raw, err := r.src.Read(ctx, path+"family")
	if err != nil {
		var se *protocol.ServerError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %s", ErrNotSensor, path)
		}
		return nil, err
	}
	structure, err := r.structureLocked(ctx, strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, err
	}
	s, err := r.build(ctx, path, path, structure)
	if err != nil {
		return nil, err
	}
	r.sensors[path] = s
	log.Debug().Str("path", path).Str("type", s.Type()).Int("fields", len(s.Fields)).Msg("sensor built")
	return s, nil
}

// Structure returns the property records of a family keyed by the path
// below the device directory.
func (r *Root) Structure(ctx context.Context, family string) (map[string]Properties, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.structureLocked(ctx, family)
}

func (r *Root) structureLocked(ctx context.Context, family string) (map[string]Properties, error) {
	if s, ok := r.structure[family]; ok {
		return s, nil
	}
	base := protocol.PathStructure + family + "/"
	out := make(map[string]Properties)
	pending := []string{base}
	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		entries, err := r.src.Dir(ctx, dir, ownet.DirOptions{})
		if err != nil {
			return nil, fmt.Errorf("sensors: structure %s: %w", family, err)
		}
		for _, e := range entries {
			if strings.HasSuffix(e, "/") {
				pending = append(pending, e)
				continue
			}
			raw, err := r.src.Read(ctx, e)
			if err != nil {
				return nil, fmt.Errorf("sensors: structure %s: %w", e, err)
			}
			props, err := ParseProperties(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", e, err)
			}
			out[strings.TrimPrefix(e, base)] = props
		}
	}
	r.structure[family] = out
	return out, nil
}

// build walks dir below the device directory dev.
func (r *Root) build(ctx context.Context, dev, dir string, structure map[string]Properties) (*Sensor, error) {
	s := &Sensor{
		Path:   dir,
		Fields: make(map[string]*Accessor),
		Fixed:  make(map[string]any),
		Dirs:   make(map[string]*Sensor),
	}
	entries, err := r.src.Dir(ctx, dir, ownet.DirOptions{})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := mangle(strings.TrimPrefix(e, dir))
		if strings.HasSuffix(e, "/") {
			sub, err := r.build(ctx, dev, e, structure)
			if err != nil {
				return nil, err
			}
			s.Dirs[name] = sub
			continue
		}
		key := strings.TrimPrefix(e, dev)
		if pageEntry.MatchString(key) {
			continue
		}
		props, ok := structure[key]
		if !ok {
			return nil, fmt.Errorf("sensors: no structure record for %s", e)
		}
		if !props.Readable() {
			continue
		}
		kind, ok := KindOf(props.Type)
		if !ok {
			return nil, fmt.Errorf("sensors: unknown type code %q for %s", props.Type, e)
		}
		acc := &Accessor{Path: e, Name: name, Props: props, Kind: kind, src: r.src}
		if props.Fixed() {
			v, err := acc.Read(ctx)
			if err != nil {
				return nil, err
			}
			s.Fixed[name] = v
			continue
		}
		s.Fields[name] = acc
	}
	return s, nil
}

// mangle turns a directory entry into a field name.
func mangle(name string) string {
	name = strings.ReplaceAll(name, "-", "_")
	for _, suffix := range []string{".ALL", "/"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}
