package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"DatasetApp/dataset"
	iface "DatasetApp/interface"
	"DatasetApp/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	datasetsCollection = "datasets"
	samplesCollection  = "samples"
	insertBatch        = 1000
)

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	PingTimeout    time.Duration
}

func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "datasetapp",
		ConnectTimeout: 10 * time.Second,
		PingTimeout:    5 * time.Second,
	}
}

type datasetDocument struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	Type        int       `bson:"type"`
	Root        string    `bson:"root"`
	Classes     []string  `bson:"classes"`
	LabelField  string    `bson:"label_field"`
	CreatedAt   time.Time `bson:"created_at"`
	SampleCount int       `bson:"sample_count"`
}

type metadataDocument struct {
	Width     int    `bson:"width"`
	Height    int    `bson:"height"`
	SizeBytes int64  `bson:"size_bytes"`
	MimeType  string `bson:"mime_type"`
}

type detectionDocument struct {
	ID          string      `bson:"_id"`
	Label       string      `bson:"label"`
	ClassID     int         `bson:"class_id"`
	BoundingBox []float64   `bson:"bounding_box"`
	Confidence  *float64    `bson:"confidence,omitempty"`
	Points      [][]float64 `bson:"points,omitempty"`
}

type sampleDocument struct {
	ID         string              `bson:"_id"`
	DatasetID  string              `bson:"dataset_id"`
	Filepath   string              `bson:"filepath"`
	Tags       []string            `bson:"tags"`
	Metadata   metadataDocument    `bson:"metadata"`
	Detections []detectionDocument `bson:"detections"`
}

// Mongo persists datasets in two collections: one document per dataset and
// one per sample keyed by dataset_id.
type Mongo struct {
	client   *mongo.Client
	datasets *mongo.Collection
	samples  *mongo.Collection
}

func NewMongo(ctx context.Context, cfg *MongoConfig) (*Mongo, error) {
	if cfg == nil {
		cfg = DefaultMongoConfig()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Mongo{
		client:   client,
		datasets: db.Collection(datasetsCollection),
		samples:  db.Collection(samplesCollection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.Log().Info("Connected to MongoDB", zap.String("uri", cfg.URI), zap.String("database", cfg.Database))
	return m, nil
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := m.datasets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to index datasets: %w", err)
	}
	_, err = m.samples.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "dataset_id", Value: 1}, {Key: "filepath", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to index samples: %w", err)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Has(ctx context.Context, name string) (bool, error) {
	n, err := m.datasets.CountDocuments(ctx, bson.M{"name": name})
	if err != nil {
		return false, fmt.Errorf("failed to count datasets: %w", err)
	}
	return n > 0, nil
}

// Put replaces any stored dataset with the same name.
func (m *Mongo) Put(ctx context.Context, ds *dataset.Dataset) error {
	if err := m.Delete(ctx, ds.Name()); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	doc := datasetToDocument(ds)
	if _, err := m.datasets.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}

	batch := make([]interface{}, 0, insertBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := m.samples.InsertMany(ctx, batch); err != nil {
			return fmt.Errorf("failed to insert samples: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	for _, s := range ds.Samples() {
		batch = append(batch, sampleToDocument(ds.ID(), s))
		if len(batch) == insertBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	logger.Log().Info("Dataset persisted", zap.String("name", doc.Name), zap.Int("samples", doc.SampleCount))
	return nil
}

func (m *Mongo) Get(ctx context.Context, name string) (*dataset.Dataset, error) {
	var doc datasetDocument
	if err := m.datasets.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to find dataset: %w", err)
	}

	cursor, err := m.samples.Find(ctx, bson.M{"dataset_id": doc.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to find samples: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []sampleDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode samples: %w", err)
	}
	samples := make([]*dataset.Sample, len(docs))
	for i := range docs {
		samples[i] = documentToSample(&docs[i])
	}
	return dataset.Restore(documentToInfo(&doc), samples), nil
}

func (m *Mongo) List(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"name": 1}).
		SetSort(bson.D{{Key: "name", Value: 1}})
	cursor, err := m.datasets.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer cursor.Close(ctx)
	var docs []struct {
		Name string `bson:"name"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode datasets: %w", err)
	}
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.Name
	}
	return names, nil
}

func (m *Mongo) Delete(ctx context.Context, name string) error {
	var doc datasetDocument
	if err := m.datasets.FindOne(ctx, bson.M{"name": name}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to find dataset: %w", err)
	}
	if _, err := m.samples.DeleteMany(ctx, bson.M{"dataset_id": doc.ID}); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	if _, err := m.datasets.DeleteOne(ctx, bson.M{"_id": doc.ID}); err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	return nil
}

func datasetToDocument(ds *dataset.Dataset) *datasetDocument {
	info := ds.Info()
	return &datasetDocument{
		ID:          info.ID,
		Name:        info.Name,
		Type:        int(info.Type),
		Root:        info.Root,
		Classes:     info.Classes,
		LabelField:  info.LabelField,
		CreatedAt:   info.CreatedAt,
		SampleCount: info.SampleCount,
	}
}

func documentToInfo(doc *datasetDocument) dataset.Info {
	t := iface.DatasetType(doc.Type)
	return dataset.Info{
		ID:          doc.ID,
		Name:        doc.Name,
		Type:        t,
		TypeName:    t.String(),
		Root:        doc.Root,
		Classes:     doc.Classes,
		LabelField:  doc.LabelField,
		CreatedAt:   doc.CreatedAt,
		SampleCount: doc.SampleCount,
	}
}

func sampleToDocument(datasetID string, s *dataset.Sample) *sampleDocument {
	dets := make([]detectionDocument, len(s.Detections))
	for i, d := range s.Detections {
		dd := detectionDocument{
			ID:          d.ID,
			Label:       d.Label,
			ClassID:     d.ClassID,
			BoundingBox: d.BoundingBox[:],
			Confidence:  d.Confidence,
		}
		for _, p := range d.Points {
			dd.Points = append(dd.Points, []float64{p[0], p[1]})
		}
		dets[i] = dd
	}
	return &sampleDocument{
		ID:        s.ID,
		DatasetID: datasetID,
		Filepath:  s.Filepath,
		Tags:      s.Tags,
		Metadata: metadataDocument{
			Width:     s.Metadata.Width,
			Height:    s.Metadata.Height,
			SizeBytes: s.Metadata.SizeBytes,
			MimeType:  s.Metadata.MimeType,
		},
		Detections: dets,
	}
}

func documentToSample(doc *sampleDocument) *dataset.Sample {
	s := &dataset.Sample{
		ID:       doc.ID,
		Filepath: doc.Filepath,
		Tags:     doc.Tags,
		Metadata: dataset.Metadata{
			Width:     doc.Metadata.Width,
			Height:    doc.Metadata.Height,
			SizeBytes: doc.Metadata.SizeBytes,
			MimeType:  doc.Metadata.MimeType,
		},
		Detections: make([]dataset.Detection, len(doc.Detections)),
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	for i, dd := range doc.Detections {
		d := dataset.Detection{
			ID:         dd.ID,
			Label:      dd.Label,
			ClassID:    dd.ClassID,
			Confidence: dd.Confidence,
		}
		copy(d.BoundingBox[:], dd.BoundingBox)
		for _, p := range dd.Points {
			if len(p) == 2 {
				d.Points = append(d.Points, [2]float64{p[0], p[1]})
			}
		}
		s.Detections[i] = d
	}
	return s
}
