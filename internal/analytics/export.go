package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/pipeline"
)

const dayLayout = "2006-01-02"

// Row matches the Glue table columns. The table is partitioned by dt.
type Row struct {
	DocumentID    string `parquet:"name=document_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObjectKey     string `parquet:"name=object_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name          string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	SkillCount    int32  `parquet:"name=skill_count, type=INT32"`
	Skills        string `parquet:"name=skills, type=BYTE_ARRAY, convertedtype=UTF8"` // comma separated
	QuestionCount int32  `parquet:"name=question_count, type=INT32"`
	Stage         string `parquet:"name=stage, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	UpdatedAt     string `parquet:"name=updated_at, type=BYTE_ARRAY, convertedtype=UTF8"` // RFC3339
}

// RowFor flattens a state record into an export row.
func RowFor(rec pipeline.Record) Row {
	row := Row{
		DocumentID: rec.ID,
		ObjectKey:  rec.Key,
		Stage:      string(rec.Stage),
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.Parsed != nil {
		row.Name = rec.Parsed.Name
		row.SkillCount = int32(len(rec.Parsed.Skills))
		row.Skills = strings.Join(rec.Parsed.Skills, ", ")
	}
	if rec.Questions != nil {
		row.QuestionCount = int32(rec.Questions.Count())
	}
	return row
}

type Putter interface {
	Put(ctx context.Context, bucket, key, contentType string, body []byte) error
}

type GlueAPI interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	CreatePartition(ctx context.Context, params *glue.CreatePartitionInput, optFns ...func(*glue.Options)) (*glue.CreatePartitionOutput, error)
}

// Exporter writes parsed resumes to the analytics bucket as one Parquet file per day.
type Exporter struct {
	store    pipeline.Store
	objects  Putter
	glue     GlueAPI
	bucket   string
	prefix   string
	database string
	table    string
	daysBack int
	now      func() time.Time
	log      *slog.Logger
}

// NewExporter returns an Exporter. glue may be nil, or the config may leave
// GLUE_DATABASE unset; either way partitions are not registered.
func NewExporter(cfg config.Export, store pipeline.Store, objects Putter, glue GlueAPI, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{
		store:    store,
		objects:  objects,
		glue:     glue,
		bucket:   cfg.AnalyticsBucket,
		prefix:   cfg.Prefix,
		database: cfg.GlueDatabase,
		table:    cfg.GlueTable,
		daysBack: max(cfg.DaysBack, 1),
		now:      time.Now,
		log:      log,
	}
}

func (e *Exporter) SetClock(now func() time.Time) { e.now = now }

type Summary struct {
	Ok       bool     `json:"ok"`
	DaysBack int      `json:"days_back"`
	Rows     int      `json:"rows"`
	Written  int      `json:"written"`
	Bucket   string   `json:"bucket"`
	Keys     []string `json:"keys,omitempty"`
}

// Run exports every Parsed or Questioned document last updated within the
// window, today (UTC) included.
func (e *Exporter) Run(ctx context.Context) (Summary, error) {
	today := e.now().UTC()
	byDay := make(map[string][]Row, e.daysBack)
	for i := 0; i < e.daysBack; i++ {
		byDay[today.AddDate(0, 0, -i).Format(dayLayout)] = nil
	}

	err := e.store.Each(ctx, func(rec pipeline.Record) error {
		if rec.Stage != pipeline.StageParsed && rec.Stage != pipeline.StageQuestioned {
			return nil
		}
		rows, ok := byDay[rec.UpdatedDay]
		if !ok {
			return nil
		}
		byDay[rec.UpdatedDay] = append(rows, RowFor(rec))
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("scan state: %w", err)
	}

	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)

	sum := Summary{Ok: true, DaysBack: e.daysBack, Bucket: e.bucket}
	var tableSD *gluetypes.StorageDescriptor
	for _, day := range days {
		rows := byDay[day]
		if len(rows) == 0 {
			continue
		}

		// one object per day, so re-runs replace it
		key := fmt.Sprintf("%sdt=%s/part-%s.parquet", e.prefix, day, day)
		data, err := encodeRows(rows)
		if err != nil {
			return sum, fmt.Errorf("encode dt=%s: %w", day, err)
		}
		if err := e.objects.Put(ctx, e.bucket, key, "application/octet-stream", data); err != nil {
			return sum, fmt.Errorf("write parquet dt=%s: %w", day, err)
		}
		e.log.Info("exported parsed resumes", "dt", day, "rows", len(rows), "key", key)
		sum.Rows += len(rows)
		sum.Written++
		sum.Keys = append(sum.Keys, key)

		if e.glue == nil || e.database == "" {
			continue
		}
		if tableSD == nil {
			if tableSD, err = e.tableDescriptor(ctx); err != nil {
				return sum, err
			}
		}
		if err := e.addPartition(ctx, tableSD, day); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (e *Exporter) tableDescriptor(ctx context.Context) (*gluetypes.StorageDescriptor, error) {
	out, err := e.glue.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(e.database),
		Name:         aws.String(e.table),
	})
	if err != nil {
		return nil, fmt.Errorf("glue get table %s.%s: %w", e.database, e.table, err)
	}
	if out.Table == nil || out.Table.StorageDescriptor == nil {
		return &gluetypes.StorageDescriptor{}, nil
	}
	return out.Table.StorageDescriptor, nil
}

func (e *Exporter) addPartition(ctx context.Context, table *gluetypes.StorageDescriptor, day string) error {
	sd := *table
	sd.Location = aws.String(fmt.Sprintf("s3://%s/%sdt=%s/", e.bucket, e.prefix, day))

	_, err := e.glue.CreatePartition(ctx, &glue.CreatePartitionInput{
		DatabaseName: aws.String(e.database),
		TableName:    aws.String(e.table),
		PartitionInput: &gluetypes.PartitionInput{
			Values:            []string{day},
			StorageDescriptor: &sd,
		},
	})
	var exists *gluetypes.AlreadyExistsException
	if errors.As(err, &exists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("glue create partition dt=%s: %w", day, err)
	}
	e.log.Info("registered partition", "table", e.table, "dt", day)
	return nil
}

// encodeRows writes rows to a Parquet file in the temp dir and returns its bytes.
func encodeRows(rows []Row) ([]byte, error) {
	localPath := filepath.Join(os.TempDir(), "parsed_resumes_"+uuid.NewString()+".parquet")
	defer func() { _ = os.Remove(localPath) }()

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return nil, fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // uncompressed

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return nil, fmt.Errorf("parquet write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("parquet close: %w", err)
	}

	return os.ReadFile(localPath)
}
