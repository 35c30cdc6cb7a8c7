package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deanalyse/adapters/coercer"
	"deanalyse/adapters/spreadsheet"
	"deanalyse/ai"
	"deanalyse/domain/core"
	"deanalyse/domain/profile"
	"deanalyse/domain/session"
	apperrors "deanalyse/internal/errors"
	"deanalyse/internal/metrics"
	"deanalyse/internal/profiling"
	"deanalyse/ports"

	"go.uber.org/zap"
)

// UploadRequest is one uploaded file
type UploadRequest struct {
	SessionID   string // issued by the caller; a new one is generated when empty
	Filename    string
	ContentType string
	Data        []byte
}

// UploadResult is what the caller gets back after profiling
type UploadResult struct {
	SessionID    string
	Filename     string
	Profile      *profile.Profile
	MIMEMismatch bool
}

// UploadService runs the ingestion pipeline: validate, read, coerce, profile,
// suggest KPIs and store.
type UploadService struct {
	reader     *spreadsheet.DataReader
	coercer    *coercer.TypeCoercer
	profiler   *profiling.DataProfiler
	kpis       *ai.KPISuggester
	store      ports.ContextStore
	retainRows bool
	metrics    metrics.Backend
	logger     *zap.Logger
}

// NewUploadService wires the pipeline. kpis may be nil. When retainRows is
// false only the profile outlives the request and code execution is unavailable.
func NewUploadService(reader *spreadsheet.DataReader, c *coercer.TypeCoercer, profiler *profiling.DataProfiler, kpis *ai.KPISuggester, store ports.ContextStore, retainRows bool, m metrics.Backend, logger *zap.Logger) *UploadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadService{
		reader:     reader,
		coercer:    c,
		profiler:   profiler,
		kpis:       kpis,
		store:      store,
		retainRows: retainRows,
		metrics:    metrics.OrNop(m),
		logger:     logger.Named("upload"),
	}
}

// Upload profiles the file and stores the result under the session.
// Gatekeeping and parse failures are validation errors; anything else is internal.
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (result *UploadResult, err error) {
	defer func() {
		status := "ok"
		switch {
		case err == nil:
		case apperrors.GetCode(err) == apperrors.CodeValidationError:
			status = "rejected"
		default:
			status = "error"
		}
		s.metrics.IncCounter(metrics.UploadTotal, 1, metrics.Labels{"status": status})
	}()

	upload, err := spreadsheet.ValidateUpload(req.Filename, int64(len(req.Data)), req.ContentType)
	if err != nil {
		return nil, validationError(err)
	}
	if upload.MIMEMismatch {
		s.logger.Warn("content type does not match extension",
			zap.String("filename", upload.Filename),
			zap.String("content_type", req.ContentType))
	}

	start := time.Now()
	raw, err := s.reader.Read(req.Data, upload.Format)
	if err != nil {
		return nil, validationError(err)
	}
	frame, err := s.coercer.Coerce(raw)
	if err != nil {
		if core.IsIngestionError(err) {
			return nil, validationError(err)
		}
		return nil, apperrors.InternalError("failed to type dataset", err)
	}
	p := s.profiler.ProfileDataset(frame)
	s.logger.Info("dataset profiled",
		zap.String("filename", upload.Filename),
		zap.Int("rows", p.RowCount),
		zap.Int("columns", p.ColumnCount),
		zap.Int("anomalies", len(p.Anomalies)),
		zap.Duration("elapsed", time.Since(start)))

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = core.NewID().String()
	}
	p = p.WithKpis(s.kpis.Suggest(ctx, sessionID, p))

	entry := &session.Entry{
		ID:       sessionID,
		Filename: upload.Filename,
		Profile:  p,
	}
	if s.retainRows {
		entry.Frame = frame
	}
	if err := s.store.Put(ctx, sessionID, entry); err != nil {
		return nil, apperrors.InternalError("failed to store session", err)
	}

	return &UploadResult{
		SessionID:    sessionID,
		Filename:     upload.Filename,
		Profile:      p,
		MIMEMismatch: upload.MIMEMismatch,
	}, nil
}

// validationError turns an ingestion failure into a 400 whose message names the problem
func validationError(err error) error {
	var message string
	switch {
	case errors.Is(err, core.ErrUnsupportedFormat):
		message = "File type not allowed. Please upload CSV or Excel files only."
	case errors.Is(err, core.ErrFileTooLarge):
		message = fmt.Sprintf("File too large. Maximum size is %dMB.", spreadsheet.MaxFileSize/(1024*1024))
	case errors.Is(err, core.ErrEmptyFile):
		message = "File is empty"
	default:
		message = fmt.Sprintf("Could not read file: %v", err)
	}
	return apperrors.ValidationError(message, err)
}
