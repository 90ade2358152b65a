package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/RetinaGuard/internal/domain/risk"
	"github.com/turtacn/RetinaGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RetinaGuard/pkg/errors"
)

const (
	scanPrefix      = "scans/"
	scanKeyLayout   = "20060102T150405Z"
	jsonContentType = "application/json"
)

// ScanReport is the archived result of one clinic scan.
type ScanReport struct {
	ClinicID     string                      `json:"clinicId"`
	LookbackDays int                         `json:"lookbackDays"`
	GeneratedAt  time.Time                   `json:"generatedAt"`
	Findings     []risk.AbnormalTrendFinding `json:"findings"`
}

// ArchivedReport locates a stored ScanReport.
type ArchivedReport struct {
	Bucket       string
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ScanArchive stores scan reports under scans/<clinic>/<timestamp>.json.
type ScanArchive struct {
	client *Client
	logger logging.Logger
}

func NewScanArchive(client *Client, logger logging.Logger) *ScanArchive {
	return &ScanArchive{client: client, logger: logger.Named("scan_archive")}
}

// ScanKey returns the object key for a report of clinicID generated at t.
func ScanKey(clinicID string, t time.Time) string {
	return scanPrefix + clinicID + "/" + t.UTC().Format(scanKeyLayout) + ".json"
}

func (a *ScanArchive) Archive(ctx context.Context, report *ScanReport) (*ArchivedReport, error) {
	if err := a.client.checkOpen(); err != nil {
		return nil, err
	}
	if report == nil || report.ClinicID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "scan report requires a clinic id")
	}
	if strings.Contains(report.ClinicID, "/") {
		return nil, errors.New(errors.ErrCodeValidation, "clinic id must not contain '/'").WithDetail(report.ClinicID)
	}
	if report.Findings == nil {
		report.Findings = []risk.AbnormalTrendFinding{}
	}

	data, err := json.Marshal(report)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal scan report")
	}

	key := ScanKey(report.ClinicID, report.GeneratedAt)
	info, err := a.client.api.PutObject(ctx, a.client.Bucket(), key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: jsonContentType,
		UserMetadata: map[string]string{
			"clinic-id": report.ClinicID,
			"findings":  strconv.Itoa(len(report.Findings)),
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTrendArchiveFailed, "failed to upload scan report").WithDetail(key)
	}

	a.logger.Info("scan report archived",
		logging.String("clinic_id", report.ClinicID),
		logging.String("key", key),
		logging.Int("findings", len(report.Findings)))
	return &ArchivedReport{
		Bucket:       a.client.Bucket(),
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// List returns a clinic's archived reports, newest first, at most limit
// entries when limit > 0.
func (a *ScanArchive) List(ctx context.Context, clinicID string, limit int) ([]ArchivedReport, error) {
	if err := a.client.checkOpen(); err != nil {
		return nil, err
	}
	if clinicID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "clinic id required")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]ArchivedReport, 0)
	objects := a.client.api.ListObjects(ctx, a.client.Bucket(), minio.ListObjectsOptions{
		Prefix:    scanPrefix + clinicID + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorageError, "failed to list scan reports").WithDetail(clinicID)
		}
		out = append(out, ArchivedReport{
			Bucket:       a.client.Bucket(),
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
		})
	}

	// Keys embed a sortable UTC timestamp.
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DownloadURL returns a presigned GET URL for key.
func (a *ScanArchive) DownloadURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if err := a.client.checkOpen(); err != nil {
		return "", err
	}
	if !strings.HasPrefix(key, scanPrefix) {
		return "", errors.New(errors.ErrCodeValidation, "not a scan report key").WithDetail(key)
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	u, err := a.client.api.PresignedGetObject(ctx, a.client.Bucket(), key, expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to presign scan report").WithDetail(key)
	}
	return u.String(), nil
}
