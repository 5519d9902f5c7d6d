package dataset

import (
	"context"
	"errors"
	"time"

	iface "DatasetApp/interface"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrMalformed       = errors.New("malformed dataset")
	ErrUnsupportedType = errors.New("unsupported dataset type")
	ErrNameTaken       = errors.New("dataset name already exists")
)

const DefaultLabelField = "ground_truth"

type Metadata struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

// Detection is one annotated object. BoundingBox is [x, y, w, h] relative to
// the image size with a top-left origin.
type Detection struct {
	ID          string       `json:"id"`
	Label       string       `json:"label"`
	ClassID     int          `json:"class_id"`
	BoundingBox [4]float64   `json:"bounding_box"`
	Confidence  *float64     `json:"confidence,omitempty"`
	Points      [][2]float64 `json:"points,omitempty"`
}

// PixelBox converts the relative box to pixel corners for a w x h image.
func (d Detection) PixelBox(w, h int) iface.Box {
	x1 := float32(d.BoundingBox[0] * float64(w))
	y1 := float32(d.BoundingBox[1] * float64(h))
	x2 := float32((d.BoundingBox[0] + d.BoundingBox[2]) * float64(w))
	y2 := float32((d.BoundingBox[1] + d.BoundingBox[3]) * float64(h))
	return iface.Box{
		LT: iface.Position{X: x1, Y: y1},
		RT: iface.Position{X: x2, Y: y1},
		RB: iface.Position{X: x2, Y: y2},
		LB: iface.Position{X: x1, Y: y2},
	}
}

type Sample struct {
	ID         string      `json:"id"`
	Filepath   string      `json:"filepath"`
	Tags       []string    `json:"tags"`
	Metadata   Metadata    `json:"metadata"`
	Detections []Detection `json:"detections"`
}

func (s *Sample) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s *Sample) HasLabel(label string) bool {
	for _, d := range s.Detections {
		if d.Label == label {
			return true
		}
	}
	return false
}

// Info is the dataset summary without samples.
type Info struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        iface.DatasetType `json:"-"`
	TypeName    string            `json:"type"`
	Root        string            `json:"root"`
	Classes     []string          `json:"classes"`
	LabelField  string            `json:"label_field"`
	CreatedAt   time.Time         `json:"created_at"`
	SampleCount int               `json:"sample_count"`
}

// Registry is where constructed datasets are recorded by name.
type Registry interface {
	Has(ctx context.Context, name string) (bool, error)
	Put(ctx context.Context, ds *Dataset) error
}

type options struct {
	name       string
	splits     []string
	workers    int
	registry   Registry
	labelField string
	overwrite  bool
}

type Option func(*options)

// WithName names the dataset. Without it a timestamp name is generated.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithSplits restricts a YOLOv5 import to the given split keys.
func WithSplits(splits ...string) Option {
	return func(o *options) { o.splits = splits }
}

// WithWorkers bounds the number of goroutines reading label files.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithCatalog records the dataset in r once it is built.
func WithCatalog(r Registry) Option {
	return func(o *options) { o.registry = r }
}

func WithLabelField(field string) Option {
	return func(o *options) { o.labelField = field }
}

// WithOverwrite replaces an existing dataset with the same name.
func WithOverwrite() Option {
	return func(o *options) { o.overwrite = true }
}
