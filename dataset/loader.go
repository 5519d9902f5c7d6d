package dataset

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	iface "DatasetApp/interface"
	"DatasetApp/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// entry is an image waiting to be turned into a sample.
type entry struct {
	path  string
	label string
	tags  []string
}

// FromDir indexes the dataset stored in dir using the layout of t.
func FromDir(ctx context.Context, dir string, t iface.DatasetType, opts ...Option) (*Dataset, error) {
	o := options{labelField: DefaultLabelField}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers <= 0 {
		o.workers = runtime.NumCPU()
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: dataset directory %s", ErrNotFound, root)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, root)
	}

	var entries []entry
	var classes []string
	switch t {
	case iface.YOLOv5Dataset:
		entries, classes, err = yoloV5Entries(root, o.splits)
	case iface.YOLOv4Dataset:
		entries, classes, err = yoloV4Entries(root)
	case iface.ImageDirectory:
		entries, err = directoryEntries(root)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedType, t)
	}
	if err != nil {
		return nil, err
	}

	name, err := resolveName(ctx, o)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	samples, err := buildSamples(ctx, entries, classes, o.workers)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		id:         uuid.NewString(),
		name:       name,
		typ:        t,
		root:       root,
		classes:    classes,
		labelField: o.labelField,
		createdAt:  time.Now().UTC(),
		samples:    samples,
	}
	ds.index()
	logger.Log().Info("Dataset imported",
		zap.String("name", ds.name),
		zap.String("type", t.String()),
		zap.String("root", root),
		zap.Int("samples", ds.Len()),
		zap.Int("classes", len(classes)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if o.registry != nil {
		if err := o.registry.Put(ctx, ds); err != nil {
			return nil, fmt.Errorf("register dataset %s: %w", ds.name, err)
		}
	}
	return ds, nil
}

func resolveName(ctx context.Context, o options) (string, error) {
	if o.name != "" {
		if o.registry != nil && !o.overwrite {
			taken, err := o.registry.Has(ctx, o.name)
			if err != nil {
				return "", err
			}
			if taken {
				return "", fmt.Errorf("%w: %s", ErrNameTaken, o.name)
			}
		}
		return o.name, nil
	}
	base := time.Now().Format("2006.01.02.15.04.05")
	if o.registry == nil {
		return base, nil
	}
	name := base
	for i := 2; ; i++ {
		taken, err := o.registry.Has(ctx, name)
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, i)
	}
}

func yoloV5Entries(root string, only []string) ([]entry, []string, error) {
	spec, err := readYOLOv5Spec(root)
	if err != nil {
		return nil, nil, err
	}
	base := root
	if spec.Path != "" {
		base = spec.Path
		if !filepath.IsAbs(base) {
			base = filepath.Join(root, base)
		}
	}

	splits := spec.splits()
	order := []string{"train", "val", "test"}
	if len(only) > 0 {
		for _, s := range only {
			if _, ok := splits[s]; !ok {
				return nil, nil, fmt.Errorf("%w: split %q not defined in dataset.yaml", ErrNotFound, s)
			}
		}
		order = only
	}
	if len(splits) == 0 {
		return nil, nil, fmt.Errorf("%w: dataset.yaml defines no splits", ErrMalformed)
	}

	// an image listed by several splits becomes one sample carrying every tag
	seen := map[string]int{}
	var entries []entry
	for _, split := range order {
		paths, ok := splits[split]
		if !ok {
			continue
		}
		for _, p := range paths {
			images, err := resolveSplit(p, base)
			if err != nil {
				return nil, nil, fmt.Errorf("split %s: %w", split, err)
			}
			for _, img := range images {
				if i, dup := seen[img]; dup {
					entries[i].tags = append(entries[i].tags, split)
					continue
				}
				seen[img] = len(entries)
				entries = append(entries, entry{path: img, label: labelPathFor(img), tags: []string{split}})
			}
		}
	}
	return entries, spec.Names, nil
}

func yoloV4Entries(root string) ([]entry, []string, error) {
	var classes []string
	names, err := ReadLines(filepath.Join(root, "obj.names"))
	switch {
	case err == nil:
		classes = names
	case !errors.Is(err, fs.ErrNotExist):
		return nil, nil, err
	}

	var images []string
	listPath := filepath.Join(root, "images.txt")
	if _, statErr := os.Stat(listPath); statErr == nil {
		images, err = listImages(listPath, root)
	} else {
		images, err = scanImages(filepath.Join(root, "data"))
	}
	if err != nil {
		return nil, nil, err
	}
	entries := make([]entry, len(images))
	for i, img := range images {
		entries[i] = entry{path: img, label: strings.TrimSuffix(img, filepath.Ext(img)) + ".txt"}
	}
	return entries, classes, nil
}

func directoryEntries(root string) ([]entry, error) {
	images, err := scanImages(root)
	if err != nil {
		return nil, err
	}
	entries := make([]entry, len(images))
	for i, img := range images {
		entries[i] = entry{path: img}
	}
	return entries, nil
}

// buildSamples parses label files and reads image headers on a bounded pool.
func buildSamples(ctx context.Context, entries []entry, classes []string, workers int) ([]*Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	samples := make([]*Sample, len(entries))
	jobs := make(chan int)
	stop := make(chan struct{})
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			close(stop)
		})
	}

	for w := 0; w < min(workers, max(len(entries), 1)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				s, err := buildSample(entries[i], classes)
				if err != nil {
					fail(err)
					return
				}
				samples[i] = s
			}
		}()
	}

feed:
	for i := range entries {
		select {
		case jobs <- i:
		case <-stop:
			break feed
		case <-ctx.Done():
			fail(ctx.Err())
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return samples, nil
}

func buildSample(e entry, classes []string) (*Sample, error) {
	s := &Sample{
		ID:         uuid.NewString(),
		Filepath:   e.path,
		Tags:       e.tags,
		Detections: []Detection{},
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	md, err := readMetadata(e.path)
	if err != nil {
		logger.Log().Warn("Cannot read image header", zap.String("path", e.path), zap.Error(err))
	}
	s.Metadata = md
	if e.label == "" {
		return s, nil
	}
	dets, err := parseLabelFile(e.label, classes)
	if err != nil {
		return nil, err
	}
	if dets != nil {
		s.Detections = dets
	}
	return s, nil
}

// readMetadata always reports size and mime type; dimensions need a decodable header.
func readMetadata(path string) (Metadata, error) {
	md := Metadata{MimeType: imageExts[strings.ToLower(filepath.Ext(path))]}
	f, err := os.Open(path)
	if err != nil {
		return md, err
	}
	defer f.Close()
	if st, err := f.Stat(); err == nil {
		md.SizeBytes = st.Size()
	}
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return md, err
	}
	md.Width, md.Height = cfg.Width, cfg.Height
	md.MimeType = "image/" + format
	return md, nil
}
