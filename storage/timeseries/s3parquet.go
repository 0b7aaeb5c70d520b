package timeseries

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"quoteflow/config"
	"quoteflow/internal/metadata"
	"quoteflow/logger"
	"quoteflow/models"
)

// barRecord is the parquet layout of one bar.
type barRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Period    string  `parquet:"name=period, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
	Amount    float64 `parquet:"name=amount, type=DOUBLE"`
	Provider  string  `parquet:"name=provider, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchID   string  `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// memoryFileWriter implements source.ParquetFile for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the write position; the parquet writer never rewinds.
func (mfw *memoryFileWriter) Seek(int64, int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ParquetStore writes one parquet object per (symbol, day, batch):
//
//	{prefix}/{table}/symbol={symbol}/date={yyyy-mm-dd}/{batch_id}.parquet
//
// Delete removes every object of the batch under the symbol's prefix.
type S3ParquetStore struct {
	client      objectAPI
	bucket      string
	prefix      string
	compression string
	withMeta    bool
	log         *logger.Entry

	metaMu sync.Mutex
	meta   map[string]*metadata.Generator
	metaTo string
}

func NewS3ParquetStore(ctx context.Context, cfg config.S3Config) (*S3ParquetStore, error) {
	log := logger.GetLogger().WithComponent("s3_store")

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	s, err := newS3ParquetStore(client, cfg)
	if err != nil {
		return nil, err
	}
	log.WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
		"metadata":   cfg.Metadata,
	}).Info("s3 parquet store initialized")
	return s, nil
}

func newS3ParquetStore(client objectAPI, cfg config.S3Config) (*S3ParquetStore, error) {
	s := &S3ParquetStore{
		client:      client,
		bucket:      cfg.Bucket,
		prefix:      strings.Trim(cfg.Prefix, "/"),
		compression: cfg.Compression,
		withMeta:    cfg.Metadata,
		log:         logger.GetLogger().WithComponent("s3_store"),
		meta:        make(map[string]*metadata.Generator),
	}
	if s.withMeta {
		dir, err := os.MkdirTemp("", "iceberg")
		if err != nil {
			return nil, fmt.Errorf("failed to create metadata directory: %w", err)
		}
		s.metaTo = dir
	}
	return s, nil
}

type partitionKey struct {
	symbol  string
	date    string
	batchID string
}

func (s *S3ParquetStore) Append(ctx context.Context, table string, rows []models.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := checkTable(table); err != nil {
		return err
	}

	groups := make(map[partitionKey][]models.Row)
	for _, r := range rows {
		ts, ok := r.Time(models.ColTimestamp)
		if !ok {
			return fmt.Errorf("row without timestamp for %s", r.String(models.ColSymbol))
		}
		k := partitionKey{
			symbol:  r.String(models.ColSymbol),
			date:    ts.UTC().Format("2006-01-02"),
			batchID: r.String(models.ColBatchID),
		}
		if k.symbol == "" || k.batchID == "" {
			return fmt.Errorf("row missing symbol or batch id")
		}
		groups[k] = append(groups[k], r)
	}

	keys := make([]partitionKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].date < keys[j].date })

	var uploaded []string
	for _, k := range keys {
		objectKey := s.objectKey(table, k)
		data, err := s.encode(groups[k])
		if err != nil {
			s.cleanup(ctx, uploaded)
			return err
		}
		if err := s.upload(ctx, objectKey, data); err != nil {
			s.cleanup(ctx, uploaded)
			return err
		}
		uploaded = append(uploaded, objectKey)

		if s.withMeta {
			df := metadata.DataFile{
				Path:        fmt.Sprintf("s3://%s/%s", s.bucket, objectKey),
				FileSize:    int64(len(data)),
				RecordCount: int64(len(groups[k])),
				Partition:   map[string]any{"symbol": k.symbol, "date": k.date},
				BatchID:     k.batchID,
				Timestamp:   time.Now(),
			}
			if err := s.generator(table).AddFile(ctx, df); err != nil {
				s.log.WithError(err).WithFields(logger.Fields{"s3_key": objectKey}).Warn("failed to update metadata")
			}
		}
	}
	return nil
}

// Delete lists the symbol's prefix and removes every object named after
// the batch. Objects carry no row count in a listing, so the removed count
// is the number of m.Rows that lived in the deleted objects.
func (s *S3ParquetStore) Delete(ctx context.Context, table string, m Matcher) (int, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}
	listPrefix := s.tablePrefix(table) + "symbol=" + m.Symbol + "/"
	fileName := m.BatchID + ".parquet"

	perObject := make(map[string]int)
	for _, r := range m.Rows {
		ts, ok := r.Time(models.ColTimestamp)
		if !ok {
			continue
		}
		perObject[s.objectKey(table, partitionKey{
			symbol:  m.Symbol,
			date:    ts.UTC().Format("2006-01-02"),
			batchID: m.BatchID,
		})]++
	}

	var removed []metadata.DataFile
	rows := 0
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(listPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return rows, fmt.Errorf("failed to list %s: %w", listPrefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if path.Base(key) != fileName {
				continue
			}
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(key),
			}); err != nil {
				return rows, fmt.Errorf("failed to delete %s: %w", key, err)
			}
			rows += perObject[key]
			removed = append(removed, metadata.DataFile{
				Path:        fmt.Sprintf("s3://%s/%s", s.bucket, key),
				FileSize:    aws.ToInt64(obj.Size),
				RecordCount: int64(perObject[key]),
				BatchID:     m.BatchID,
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	s.log.WithFields(logger.Fields{
		"table":    table,
		"symbol":   m.Symbol,
		"batch_id": m.BatchID,
		"objects":  len(removed),
		"rows":     rows,
	}).Warn("batch deleted")

	if s.withMeta && len(removed) > 0 {
		if err := s.generator(table).RemoveFiles(ctx, time.Now(), removed...); err != nil {
			s.log.WithError(err).Warn("failed to record deleted files in metadata")
		}
	}
	return rows, nil
}

func (s *S3ParquetStore) Close() error { return nil }

func (s *S3ParquetStore) tablePrefix(table string) string {
	if s.prefix == "" {
		return table + "/"
	}
	return s.prefix + "/" + table + "/"
}

func (s *S3ParquetStore) objectKey(table string, k partitionKey) string {
	return fmt.Sprintf("%ssymbol=%s/date=%s/%s.parquet", s.tablePrefix(table), k.symbol, k.date, k.batchID)
}

func (s *S3ParquetStore) encode(rows []models.Row) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := writer.NewParquetWriter(fw, new(barRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch s.compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "zstd":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, r := range rows {
		ts, _ := r.Time(models.ColTimestamp)
		rec := barRecord{
			Symbol:    r.String(models.ColSymbol),
			Timestamp: ts.UnixMilli(),
			Period:    r.String(models.ColPeriod),
			Open:      floatCol(r, models.ColOpen),
			High:      floatCol(r, models.ColHigh),
			Low:       floatCol(r, models.ColLow),
			Close:     floatCol(r, models.ColClose),
			Volume:    floatCol(r, models.ColVolume),
			Amount:    floatCol(r, models.ColAmount),
			Provider:  r.String(models.ColProvider),
			BatchID:   r.String(models.ColBatchID),
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

func (s *S3ParquetStore) upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type": "parquet",
			"compression":  s.compression,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", s.bucket, err)
	}
	return nil
}

// cleanup removes objects of a partially failed append so the failed
// write leaves nothing behind.
func (s *S3ParquetStore) cleanup(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			s.log.WithError(err).WithFields(logger.Fields{"s3_key": key}).Error("failed to remove partial upload")
		}
	}
}

func (s *S3ParquetStore) generator(table string) *metadata.Generator {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if g, ok := s.meta[table]; ok {
		return g
	}
	location := fmt.Sprintf("s3://%s/%s", s.bucket, strings.TrimSuffix(s.tablePrefix(table), "/"))
	metaPrefix := s.tablePrefix(table) + "metadata/"
	g := metadata.NewGenerator(filepath.Join(s.metaTo, table), location, table, func(ctx context.Context, name string, data []byte) error {
		return s.upload(ctx, metaPrefix+name, data)
	})
	s.meta[table] = g
	return g
}
