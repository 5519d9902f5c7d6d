package dataset

import (
	"slices"
	"sort"
	"time"

	iface "DatasetApp/interface"
)

// Dataset is an indexed, read-only collection of samples. It is safe for
// concurrent readers.
type Dataset struct {
	id         string
	name       string
	typ        iface.DatasetType
	root       string
	classes    []string
	labelField string
	createdAt  time.Time
	samples    []*Sample
	byID       map[string]*Sample
}

// Restore rebuilds a handle from a stored summary and its samples.
func Restore(info Info, samples []*Sample) *Dataset {
	ds := &Dataset{
		id:         info.ID,
		name:       info.Name,
		typ:        info.Type,
		root:       info.Root,
		classes:    slices.Clone(info.Classes),
		labelField: info.LabelField,
		createdAt:  info.CreatedAt,
		samples:    samples,
	}
	if ds.labelField == "" {
		ds.labelField = DefaultLabelField
	}
	ds.index()
	return ds
}

func (ds *Dataset) index() {
	sort.Slice(ds.samples, func(i, j int) bool {
		return ds.samples[i].Filepath < ds.samples[j].Filepath
	})
	ds.byID = make(map[string]*Sample, len(ds.samples))
	for _, s := range ds.samples {
		ds.byID[s.ID] = s
	}
}

func (ds *Dataset) ID() string { return ds.id }
func (ds *Dataset) Name() string { return ds.name }
func (ds *Dataset) Type() iface.DatasetType { return ds.typ }
func (ds *Dataset) Root() string { return ds.root }
func (ds *Dataset) LabelField() string { return ds.labelField }
func (ds *Dataset) CreatedAt() time.Time { return ds.createdAt }
func (ds *Dataset) Len() int { return len(ds.samples) }
func (ds *Dataset) Classes() []string { return slices.Clone(ds.classes) }
func (ds *Dataset) Samples() []*Sample { return slices.Clone(ds.samples) }
func (ds *Dataset) Sample(id string) (*Sample, bool) {
	s, ok := ds.byID[id]
	return s, ok
}

func (ds *Dataset) Info() Info {
	return Info{
		ID:          ds.id,
		Name:        ds.name,
		Type:        ds.typ,
		TypeName:    ds.typ.String(),
		Root:        ds.root,
		Classes:     ds.Classes(),
		LabelField:  ds.labelField,
		CreatedAt:   ds.createdAt,
		SampleCount: len(ds.samples),
	}
}

// Query selects samples. Tags and Labels each match if any value matches;
// an empty list matches everything. Limit <= 0 means no limit.
type Query struct {
	Tags   []string
	Labels []string
	Offset int
	Limit  int
}

type Page struct {
	Total   int       `json:"total"`
	Offset  int       `json:"offset"`
	Samples []*Sample `json:"samples"`
}

func (q Query) match(s *Sample) bool {
	if len(q.Tags) > 0 && !slices.ContainsFunc(q.Tags, s.HasTag) {
		return false
	}
	if len(q.Labels) > 0 && !slices.ContainsFunc(q.Labels, s.HasLabel) {
		return false
	}
	return true
}

func (ds *Dataset) Query(q Query) Page {
	matched := make([]*Sample, 0, len(ds.samples))
	for _, s := range ds.samples {
		if q.match(s) {
			matched = append(matched, s)
		}
	}
	offset := max(q.Offset, 0)
	page := Page{Total: len(matched), Offset: offset}
	if offset >= len(matched) {
		page.Samples = []*Sample{}
		return page
	}
	end := len(matched)
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}
	page.Samples = matched[offset:end]
	return page
}

// CountLabels counts detections per label across all samples.
func (ds *Dataset) CountLabels() map[string]int {
	counts := make(map[string]int, len(ds.classes))
	for _, s := range ds.samples {
		for _, d := range s.Detections {
			counts[d.Label]++
		}
	}
	return counts
}

// CountTags counts samples per tag.
func (ds *Dataset) CountTags() map[string]int {
	counts := make(map[string]int)
	for _, s := range ds.samples {
		for _, t := range s.Tags {
			counts[t]++
		}
	}
	return counts
}
