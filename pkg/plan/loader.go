package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ftschopp/pve-scripts/pkg/probe"
)

var (
	// ErrConfigMissing is returned when the plan file does not exist.
	ErrConfigMissing = errors.New("plan file not found")

	// ErrConfigInvalid is returned when the plan cannot be parsed or fails
	// validation.
	ErrConfigInvalid = errors.New("invalid plan")
)

// Format is the syntax of a plan document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath picks the document format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("%w: unsupported plan extension %q (want .yaml, .yml or .cue)", ErrConfigInvalid, filepath.Ext(path))
	}
}

// document mirrors the on-disk layout. Optional scalars are pointers so
// that an explicit zero can be told apart from an omitted field.
type document struct {
	VM         *vmDocument         `yaml:"vm" json:"vm,omitempty"`
	Mounts     []mountDocument     `yaml:"mounts" json:"mounts,omitempty" validate:"dive"`
	Containers []containerDocument `yaml:"containers" json:"containers,omitempty" validate:"dive"`
	Shutdown   *shutdownDocument   `yaml:"shutdown" json:"shutdown,omitempty"`
}

type vmDocument struct {
	ID           int                  `yaml:"id" json:"id" validate:"required,min=100"`
	Name         string               `yaml:"name" json:"name,omitempty"`
	StartTimeout *int                 `yaml:"start_timeout" json:"start_timeout,omitempty" validate:"omitempty,gt=0,max=86400"`
	HealthCheck  *healthCheckDocument `yaml:"health_check" json:"health_check,omitempty"`
}

type healthCheckDocument struct {
	Type     string `yaml:"type" json:"type" validate:"required,probekind"`
	Host     string `yaml:"host" json:"host" validate:"required"`
	Port     int    `yaml:"port" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Scheme   string `yaml:"scheme" json:"scheme,omitempty" validate:"omitempty,oneof=http https"`
	Path     string `yaml:"path" json:"path,omitempty"`
	Timeout  *int   `yaml:"timeout" json:"timeout,omitempty" validate:"omitempty,gt=0,max=86400"`
	Interval *int   `yaml:"interval" json:"interval,omitempty" validate:"omitempty,gt=0,max=86400"`
}

type mountDocument struct {
	Type        string `yaml:"type" json:"type" validate:"required,oneof=nfs cifs"`
	Source      string `yaml:"source" json:"source" validate:"required"`
	Target      string `yaml:"target" json:"target" validate:"required"`
	Options     string `yaml:"options" json:"options,omitempty"`
	Credentials string `yaml:"credentials" json:"credentials,omitempty"`
}

type containerDocument struct {
	ID             int    `yaml:"id" json:"id" validate:"required,min=100"`
	Name           string `yaml:"name" json:"name,omitempty"`
	Wait           *int   `yaml:"wait" json:"wait,omitempty" validate:"omitempty,gte=0,max=86400"`
	DependsOnMount string `yaml:"depends_on_mount" json:"depends_on_mount,omitempty"`
}

type shutdownDocument struct {
	ContainerTimeout *int  `yaml:"container_timeout" json:"container_timeout,omitempty" validate:"omitempty,gt=0,max=86400"`
	VMTimeout        *int  `yaml:"vm_timeout" json:"vm_timeout,omitempty" validate:"omitempty,gt=0,max=86400"`
	UnmountShares    *bool `yaml:"unmount_shares" json:"unmount_shares,omitempty"`
}

// Loader reads plan documents from disk.
type Loader struct {
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewLoader creates a plan loader.
func NewLoader(logger zerolog.Logger) *Loader {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("probekind", func(fl validator.FieldLevel) bool {
		return probe.Kind(fl.Field().String()).Valid()
	})

	return &Loader{
		validator: v,
		logger:    logger.With().Str("component", "plan").Logger(),
	}
}

// Load reads, parses and validates the plan at path.
func (l *Loader) Load(path string) (*Plan, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrConfigInvalid, path, err)
	}

	p, err := l.Parse(data, format, path)
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("path", path).
		Str("format", string(format)).
		Int("mounts", len(p.Mounts)).
		Int("containers", len(p.Containers)).
		Bool("vm", p.VM != nil).
		Msg("plan loaded")
	return p, nil
}

// Parse decodes and validates a plan document. source is recorded on the
// returned plan and used in error messages.
func (l *Loader) Parse(data []byte, format Format, source string) (*Plan, error) {
	var (
		doc document
		err error
	)
	switch format {
	case FormatYAML:
		err = decodeYAML(data, &doc)
	case FormatCUE:
		err = decodeCUE(data, source, &doc)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, source, err)
	}

	if err := l.validator.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrConfigInvalid, source, describeValidation(err))
	}

	if problems := crossCheck(&doc); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrConfigInvalid, source, strings.Join(problems, "; "))
	}

	p := doc.toPlan()
	p.Source = source
	return p, nil
}

// Load reads the plan at path with a loader that does not log.
func Load(path string) (*Plan, error) {
	return NewLoader(zerolog.Nop()).Load(path)
}

func decodeYAML(data []byte, doc *document) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func decodeCUE(data []byte, source string, doc *document) error {
	ctx := cuecontext.New()
	def, err := planDefinition(ctx)
	if err != nil {
		return err
	}

	v := ctx.CompileBytes(data, cue.Filename(source))
	if err := v.Err(); err != nil {
		return fmt.Errorf("failed to compile CUE: %s", cueerrors.Details(err, nil))
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("schema violation: %s", cueerrors.Details(err, nil))
	}

	if err := unified.Decode(doc); err != nil {
		return fmt.Errorf("failed to decode CUE: %w", err)
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "document.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (d *document) toPlan() *Plan {
	p := &Plan{
		Mounts:     make([]MountSpec, 0, len(d.Mounts)),
		Containers: make([]ContainerSpec, 0, len(d.Containers)),
		Shutdown:   DefaultShutdownPolicy(),
	}

	if d.VM != nil {
		vm := &ManagedVM{
			ID:           d.VM.ID,
			Name:         d.VM.Name,
			StartTimeout: seconds(d.VM.StartTimeout, DefaultStartTimeout),
		}
		if hc := d.VM.HealthCheck; hc != nil {
			vm.HealthCheck = &HealthCheck{
				Kind:     probe.Kind(hc.Type),
				Host:     hc.Host,
				Port:     hc.Port,
				Scheme:   orDefault(hc.Scheme, DefaultHealthScheme),
				Path:     orDefault(hc.Path, DefaultHealthPath),
				Timeout:  seconds(hc.Timeout, DefaultHealthTimeout),
				Interval: seconds(hc.Interval, DefaultHealthInterval),
			}
		}
		p.VM = vm
	}

	for _, m := range d.Mounts {
		p.Mounts = append(p.Mounts, MountSpec{
			Kind:        m.Type,
			Source:      m.Source,
			Target:      NormalizeTarget(m.Target),
			Options:     m.Options,
			Credentials: m.Credentials,
		})
	}

	for _, c := range d.Containers {
		name := c.Name
		if name == "" {
			name = DefaultContainerName(c.ID)
		}
		p.Containers = append(p.Containers, ContainerSpec{
			ID:             c.ID,
			Name:           name,
			Wait:           seconds(c.Wait, 0),
			DependsOnMount: NormalizeTarget(c.DependsOnMount),
		})
	}

	if s := d.Shutdown; s != nil {
		p.Shutdown.ContainerTimeout = seconds(s.ContainerTimeout, DefaultContainerTimeout)
		p.Shutdown.VMTimeout = seconds(s.VMTimeout, DefaultVMTimeout)
		if s.UnmountShares != nil {
			p.Shutdown.UnmountShares = *s.UnmountShares
		}
	}

	return p
}

// seconds converts a document value in whole seconds. Values are bounded
// by validation to one day (86400), well inside the range of time.Duration.
func seconds(v *int, def time.Duration) time.Duration {
	if v == nil {
		return def
	}
	return time.Duration(*v) * time.Second
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
