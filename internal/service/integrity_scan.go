// integrity_scan.go — фоновая сверка отпечатков blob'ов с initial hash.
//
// Сверка только обнаруживает расхождения и сообщает о них внешнему
// получателю (IntegrityReporter). hash_status и журнал аудита она не
// меняет: понижение статуса — задача внешнего процесса.
//
// Запускается как горутина с периодическим тикером (CM_INTEGRITY_SCAN_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/custody-module/internal/domain/model"
	"github.com/bigkaa/goartstore/custody-module/internal/repository"
	"github.com/bigkaa/goartstore/custody-module/internal/storage/filestore"
)

// Prometheus метрики сверки
var (
	integrityScanRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_integrity_scan_runs_total",
		Help: "Количество запусков сверки целостности",
	})

	integrityMismatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_integrity_mismatches_total",
		Help: "Документы, чей blob не совпал с initial hash",
	})

	integrityMissingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_integrity_missing_total",
		Help: "Документы без blob'а в хранилище",
	})

	integrityScanDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cm_integrity_scan_duration_seconds",
		Help:    "Длительность сверки целостности в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
	})
)

// IntegrityFinding — расхождение, обнаруженное сверкой.
type IntegrityFinding struct {
	DocumentID  string
	TenantID    string
	StoragePath string
	// Expected — initial hash документа
	Expected string
	// Actual — пересчитанный хэш; пусто, если blob отсутствует
	Actual string
	// Missing — blob отсутствует
	Missing bool
}

// IntegrityReporter — получатель расхождений (внешний процесс
// переклассификации hash_status).
type IntegrityReporter interface {
	Report(ctx context.Context, finding IntegrityFinding) error
}

// LogReporter — IntegrityReporter, который только пишет в лог.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter создаёт LogReporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With(slog.String("component", "integrity_reporter"))}
}

// Report пишет расхождение в лог на уровне WARN.
func (r *LogReporter) Report(_ context.Context, f IntegrityFinding) error {
	r.logger.Warn("Расхождение целостности документа",
		slog.String("document_id", f.DocumentID),
		slog.String("tenant_id", f.TenantID),
		slog.String("storage_path", f.StoragePath),
		slog.String("expected", f.Expected),
		slog.String("actual", f.Actual),
		slog.Bool("missing", f.Missing),
	)
	return nil
}

// ChecksumSource — пересчёт отпечатка сохранённого blob'а.
// Реализуется *filestore.FileStore.
type ChecksumSource interface {
	ComputeChecksum(storagePath string) (string, error)
}

// ScanResult — результат одного прохода сверки.
type ScanResult struct {
	Checked    int
	Mismatches int
	Missing    int
	Errors     int
	Duration   time.Duration
}

// IntegrityScanService — периодическая сверка целостности.
type IntegrityScanService struct {
	docs     repository.DocumentRepository
	blobs    ChecksumSource
	reporter IntegrityReporter
	interval time.Duration
	pageSize int
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewIntegrityScanService создаёт сервис сверки.
func NewIntegrityScanService(
	docs repository.DocumentRepository,
	blobs ChecksumSource,
	reporter IntegrityReporter,
	interval time.Duration,
	pageSize int,
	logger *slog.Logger,
) *IntegrityScanService {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &IntegrityScanService{
		docs:     docs,
		blobs:    blobs,
		reporter: reporter,
		interval: interval,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "integrity_scan")),
	}
}

// Start запускает фоновую горутину сверки.
func (s *IntegrityScanService) Start(ctx context.Context) {
	scanCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(scanCtx)

	s.logger.Info("Сверка целостности запущена",
		slog.String("interval", s.interval.String()),
		slog.Int("page_size", s.pageSize),
	)
}

// Stop останавливает сверку и дожидается завершения текущего прохода.
func (s *IntegrityScanService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Сверка целостности остановлена")
}

func (s *IntegrityScanService) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce проходит по всем неудалённым документам страницами по id.
func (s *IntegrityScanService) RunOnce(ctx context.Context) *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &ScanResult{}

	afterID := ""
	for ctx.Err() == nil {
		page, err := s.docs.ListActive(ctx, afterID, s.pageSize)
		if err != nil {
			s.logger.Error("Ошибка чтения страницы документов",
				slog.String("after_id", afterID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			break
		}

		for _, doc := range page {
			s.check(ctx, doc, result)
		}

		if len(page) < s.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	result.Duration = time.Since(start)

	integrityScanRunsTotal.Inc()
	integrityMismatchesTotal.Add(float64(result.Mismatches))
	integrityMissingTotal.Add(float64(result.Missing))
	integrityScanDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Сверка целостности завершена",
		slog.Int("checked", result.Checked),
		slog.Int("mismatches", result.Mismatches),
		slog.Int("missing", result.Missing),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}

func (s *IntegrityScanService) check(ctx context.Context, doc *model.Document, result *ScanResult) {
	result.Checked++

	finding := IntegrityFinding{
		DocumentID:  doc.ID,
		TenantID:    doc.TenantID,
		StoragePath: doc.StoragePath,
		Expected:    doc.InitialHash,
	}

	sum, err := s.blobs.ComputeChecksum(doc.StoragePath)
	switch {
	case errors.Is(err, filestore.ErrBlobNotFound):
		finding.Missing = true
		result.Missing++
	case err != nil:
		s.logger.Error("Ошибка вычисления checksum",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
		result.Errors++
		return
	case sum == doc.InitialHash:
		return
	default:
		finding.Actual = sum
		result.Mismatches++
	}

	if err := s.reporter.Report(ctx, finding); err != nil {
		s.logger.Error("Ошибка передачи расхождения",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
}
